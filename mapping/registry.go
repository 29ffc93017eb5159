package mapping

import (
	"fmt"

	"github.com/twinmesh/connectivity/contract"
)

// Registry is a connection-scoped catalogue of configured payload
// mappers keyed by alias. It is built once per connection snapshot and
// always contains "default".
type Registry struct {
	mappers map[string]contract.Mapper
}

// NewRegistry builds a Registry from a connection's mapping definitions,
// resolving each alias's "engine" identifier against builders, and
// always binding "default" to defaultMapper unless the connection
// itself redefines that alias.
func NewRegistry(
	definitions map[string]contract.MappingContext,
	builders map[string]func() contract.Mapper,
	defaultMapper contract.Mapper,
) (*Registry, error) {
	r := &Registry{mappers: make(map[string]contract.Mapper, len(definitions)+1)}

	r.mappers["default"] = defaultMapper

	for alias, def := range definitions {
		build, ok := builders[def.Engine]

		if !ok {
			return nil, fmt.Errorf("mapping registry: unknown mapping engine %q for alias %q", def.Engine, alias)
		}

		m := build()

		if err := m.Configure(def.Options); err != nil {
			return nil, fmt.Errorf("mapping registry: configure alias %q: %w", alias, err)
		}

		r.mappers[alias] = m
	}

	return r, nil
}

// Resolve returns the mapper chain for the given alias list, falling
// back to ["default"] when aliases is empty, per spec.md §4.4.
func (r *Registry) Resolve(aliases []string) ([]NamedMapper, error) {
	if len(aliases) == 0 {
		aliases = []string{"default"}
	}

	out := make([]NamedMapper, 0, len(aliases))

	for _, alias := range aliases {
		m, ok := r.mappers[alias]

		if !ok {
			return nil, fmt.Errorf("mapping registry: unknown payload mapping alias %q", alias)
		}

		out = append(out, NamedMapper{Alias: alias, Mapper: m})
	}

	return out, nil
}

// Has reports whether alias is a known mapper, used by protocol
// validators to check payload-mapping aliases resolve (spec.md §4.5).
func (r *Registry) Has(alias string) bool {
	_, ok := r.mappers[alias]

	return ok
}

// NamedMapper pairs a resolved mapper with the alias it was resolved
// under, so the processor can stamp the inbound-payload-mapper header.
type NamedMapper struct {
	Alias  string
	Mapper contract.Mapper
}
