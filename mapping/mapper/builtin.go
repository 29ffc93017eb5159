package mapper

import "github.com/twinmesh/connectivity/contract"

// Engine names for the mapping definitions in a connection's
// "mappingDefinitions" map, matching the "mappingEngine" values
// spec.md §6 allows.
const (
	EngineTwinProtocol   = "default"
	EngineAddHeader      = "add-header"
	EngineConnectionStatus = "ConnectionStatus"
	EngineCustom         = "JavaScript"
)

// Builtins returns the engine-name -> constructor table every
// connection's mapping.Registry is built from, covering the four
// built-in mappers spec.md §4.2 enumerates.
func Builtins() map[string]func() contract.Mapper {
	return map[string]func() contract.Mapper{
		EngineTwinProtocol:     func() contract.Mapper { return NewTwinProtocol() },
		EngineAddHeader:        func() contract.Mapper { return NewAddHeader() },
		EngineConnectionStatus: func() contract.Mapper { return NewConnectionStatus() },
		EngineCustom:           func() contract.Mapper { return NewCustom() },
	}
}
