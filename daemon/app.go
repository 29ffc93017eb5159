package daemon

import "github.com/twinmesh/connectivity/contract"

// App supplies the set of connections a Supervisor should open,
// mirroring the role the teacher's atlas.App plays for HTTP routes.
type App interface {
	Connections() ([]contract.Connection, error)
}
