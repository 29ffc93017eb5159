// Package validate implements the per-protocol configuration linter
// spec.md §4.5 requires be run before a connection is opened or tested.
package validate

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/mapping"
	"github.com/twinmesh/connectivity/problem"
)

// Validator checks one connection type's invariants.
type Validator interface {
	Validate(conn contract.Connection, mappers *mapping.Registry) error
}

// Registry dispatches to the right Validator for a connection's type.
type Registry map[contract.ConnectionType]Validator

// NewRegistry builds the standard validator set for every connection
// type spec.md names.
func NewRegistry() Registry {
	return Registry{
		contract.AMQP091:  amqpValidator{schemes: []string{"amqp", "amqps"}},
		contract.AMQP10:   amqpValidator{schemes: []string{"amqp", "amqps"}},
		contract.MQTT:     mqttValidator{},
		contract.Kafka:    kafkaValidator{},
		contract.HTTPPush: httpPushValidator{},
	}
}

// Validate looks up and runs the validator for conn.Type.
func (r Registry) Validate(conn contract.Connection, mappers *mapping.Registry) error {
	v, ok := r[conn.Type]

	if !ok {
		return &problem.ConfigurationInvalid{Description: fmt.Sprintf("unsupported connection type %q", conn.Type)}
	}

	return v.Validate(conn, mappers)
}

// checkURIScheme validates conn.URI's scheme against the accepted set,
// returning a joinable error rather than failing fast, so every
// violation in a connection is reported together.
func checkURIScheme(uri string, accepted []string) error {
	parsed, err := url.Parse(uri)

	if err != nil {
		return fmt.Errorf("invalid uri %q: %w", uri, err)
	}

	for _, scheme := range accepted {
		if parsed.Scheme == scheme {
			return nil
		}
	}

	return fmt.Errorf("uri scheme %q not in accepted set %v", parsed.Scheme, accepted)
}

// checkMappingAliases ensures every alias a source or target names
// resolves in the registry, per spec.md §4.5 "payload-mapping aliases
// resolve".
func checkMappingAliases(conn contract.Connection, mappers *mapping.Registry) error {
	var errs []error

	check := func(kind string, i int, aliases []string) {
		for _, alias := range aliases {
			if !mappers.Has(alias) {
				errs = append(errs, fmt.Errorf("%s[%d]: unknown payload mapping alias %q", kind, i, alias))
			}
		}
	}

	for i, s := range conn.Sources {
		check("source", i, s.PayloadMapping)
	}

	for i, t := range conn.Targets {
		check("target", i, t.PayloadMapping)
	}

	return errors.Join(errs...)
}

// checkEnforcementNamespaces validates that enforcement templates only
// reference namespaces this core actually resolves at runtime
// (header, thing, topic, source).
func checkEnforcementNamespaces(e *contract.Enforcement, knownPrefixes []string) error {
	if e == nil {
		return nil
	}

	var errs []error

	templates := append([]string{e.Input}, e.Filters...)

	for _, tmpl := range templates {
		for _, token := range extractNamespaces(tmpl) {
			if !contains(knownPrefixes, token) {
				errs = append(errs, fmt.Errorf("enforcement template %q references unknown namespace %q", tmpl, token))
			}
		}
	}

	return errors.Join(errs...)
}

func extractNamespaces(template string) []string {
	var out []string

	for _, part := range strings.Split(template, "{{") {
		idx := strings.Index(part, ":")

		if idx <= 0 {
			continue
		}

		ns := strings.TrimSpace(part[:idx])
		out = append(out, ns)
	}

	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}

	return false
}

var defaultNamespaces = []string{"header", "thing", "topic", "source"}
