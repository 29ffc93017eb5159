// Package placeholder implements the "{{ ns:name }}" template language
// used throughout connection configuration (enforcement inputs/filters,
// header mapping templates, target addresses) and the enforcement check
// built on top of it.
//
// A [Resolvers] set is always built and passed in by the caller for one
// specific resolution (inbound message, signal, ...); there is no global
// registry, so the same engine serves every namespace combination a
// caller needs.
package placeholder

import (
	"regexp"
	"strings"

	"github.com/twinmesh/connectivity/problem"
)

// Namespace resolves names within one "ns:" prefix, e.g. "header",
// "thing", "topic", "source", or any namespace a caller installs (tests
// commonly install "test:*").
type Namespace struct {
	Prefix  string
	Resolve func(name string) (string, bool)
}

// Resolvers is an injected set of namespaces, keyed by prefix.
type Resolvers map[string]Namespace

// New builds a Resolvers set from the given namespaces. Later entries
// with a duplicate prefix win, matching how a map literal behaves.
func New(namespaces ...Namespace) Resolvers {
	r := make(Resolvers, len(namespaces))

	for _, ns := range namespaces {
		r[ns.Prefix] = ns
	}

	return r
}

// token matches "{{" WS? ns:name WS? "}}"; whitespace inside the braces
// is insignificant per spec.md §4.1.
var token = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_-]+):([a-zA-Z0-9_.\-]+)\s*\}\}`)

// Resolve substitutes every "{{ ns:name }}" token found in template.
//
// In strict mode, a token whose namespace IS registered but whose name
// fails to resolve makes the whole call fail with
// [problem.UnresolvedPlaceholder]. A token whose namespace is not
// registered at all is always left in the output untouched, in both
// modes — an unrecognized namespace (e.g. "eclipse:ditto" from a
// foreign system) is not this resolution's concern to fail on, per
// spec.md §8 scenario 1. In lenient mode, every unresolved token
// (known or unknown namespace) is left in place untouched, which is
// what inbound header enrichment needs (spec.md §4.1, §4.3).
func (r Resolvers) Resolve(template string, strict bool) (string, error) {
	var firstErr error

	result := token.ReplaceAllStringFunc(template, func(match string) string {
		if firstErr != nil {
			return match
		}

		sub := token.FindStringSubmatch(match)
		ns, name := sub[1], sub[2]

		value, known, ok := r.resolveOne(ns, name)

		if !ok {
			if strict && known {
				firstErr = &problem.UnresolvedPlaceholder{Namespace: ns, Name: name}
			}

			return match
		}

		return value
	})

	if firstErr != nil {
		return "", firstErr
	}

	return result, nil
}

// resolveOne reports, alongside the usual value/ok pair, whether ns was
// a registered namespace at all (known) — a caller in strict mode only
// fails resolution for a known namespace whose name lookup missed, not
// for an entirely unrecognized namespace prefix.
func (r Resolvers) resolveOne(ns, name string) (value string, known, ok bool) {
	namespace, known := r[ns]

	if !known {
		return "", false, false
	}

	value, ok = namespace.Resolve(name)

	return value, true, ok
}

// HeaderNamespace builds a "header:<name>" namespace over the given
// header bag.
func HeaderNamespace(headers map[string]string) Namespace {
	return Namespace{
		Prefix: "header",
		Resolve: func(name string) (string, bool) {
			v, ok := headers[name]

			return v, ok
		},
	}
}

// ThingNamespace builds the "thing:namespace" / "thing:name" / "thing:id"
// namespace over a namespace+name pair.
func ThingNamespace(namespace, name string) Namespace {
	return Namespace{
		Prefix: "thing",
		Resolve: func(key string) (string, bool) {
			switch key {
			case "namespace":
				return namespace, namespace != ""
			case "name":
				return name, name != ""
			case "id":
				if namespace == "" && name == "" {
					return "", false
				}

				return namespace + ":" + name, true
			default:
				return "", false
			}
		},
	}
}

// TopicNamespace builds the "topic:<channel|group|entity|...>" namespace
// over a flat set of topic-path fields.
func TopicNamespace(fields map[string]string) Namespace {
	return Namespace{
		Prefix: "topic",
		Resolve: func(key string) (string, bool) {
			v, ok := fields[key]

			return v, ok
		},
	}
}

// SourceNamespace builds the "source:address" namespace over the actual
// wire-level address a message arrived on.
func SourceNamespace(address string) Namespace {
	return Namespace{
		Prefix: "source",
		Resolve: func(name string) (string, bool) {
			if name != "address" {
				return "", false
			}

			return address, address != ""
		},
	}
}

// HasPlaceholder reports whether template contains at least one
// "{{ ns:name }}" token, regardless of whether it would resolve.
func HasPlaceholder(template string) bool {
	return strings.Contains(template, "{{") && token.MatchString(template)
}
