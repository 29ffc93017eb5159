package mapping

import (
	"sort"

	"github.com/twinmesh/connectivity/placeholder"
)

// HeaderRule is one ordered output-header -> value-template pair.
// Ordered (not a map) so evaluation order is deterministic. Every rule
// is resolved against the same input headers, so one rule does not see
// headers another rule sets.
type HeaderRule struct {
	Name     string
	Template string
}

// HeaderMapping turns a connection's source/target "headerMapping"
// object (a JSON object, hence a map once decoded) into a
// deterministically ordered rule list. The wire format cannot express
// rule order, so rules are applied in name order; a connection needing
// one rule to see another's output should fold both into one template.
func HeaderMapping(rules map[string]string) []HeaderRule {
	names := make([]string, 0, len(rules))

	for name := range rules {
		names = append(names, name)
	}

	sort.Strings(names)

	out := make([]HeaderRule, 0, len(names))

	for _, name := range names {
		out = append(out, HeaderRule{Name: name, Template: rules[name]})
	}

	return out
}

// ApplyHeaderMapping evaluates each rule's template against resolvers in
// strict mode, so a placeholder that does not resolve omits that header
// rather than failing the whole mapping, per spec.md §4.3. A placeholder
// whose namespace resolvers does not register is kept literally, as
// Resolve does in both modes.
func ApplyHeaderMapping(rules []HeaderRule, resolvers placeholder.Resolvers, headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+len(rules))

	for k, v := range headers {
		out[k] = v
	}

	for _, rule := range rules {
		resolved, err := resolvers.Resolve(rule.Template, true)

		if err != nil {
			continue
		}

		out[rule.Name] = resolved
	}

	return out
}
