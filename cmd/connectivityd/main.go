package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/twinmesh/connectivity/connection"
	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/daemon"
	"github.com/twinmesh/connectivity/transport/amqp091"
	"github.com/twinmesh/connectivity/transport/amqp10"
	"github.com/twinmesh/connectivity/transport/httppush"
	"github.com/twinmesh/connectivity/transport/kafka"
	"github.com/twinmesh/connectivity/transport/mqtt"
)

// App loads its connection set from a JSON file on disk (a list of
// contract.Connection); connection storage/discovery beyond that file
// is an explicit Non-goal, the same way the teacher's atlas example App
// hard-codes its one route.
type App struct {
	path string
}

func (a *App) Connections() ([]contract.Connection, error) {
	data, err := os.ReadFile(a.path)

	if err != nil {
		return nil, err
	}

	var conns []contract.Connection

	if err := json.Unmarshal(data, &conns); err != nil {
		return nil, err
	}

	return conns, nil
}

func main() {
	path := flag.String("connections", "connections.json", "path to a JSON array of connection configurations")
	flag.Parse()

	factories := map[contract.ConnectionType]connection.FactoryBuilder{
		contract.AMQP091: func(conn contract.Connection) (contract.Factory, error) { return amqp091.New(conn) },
		contract.AMQP10:  func(conn contract.Connection) (contract.Factory, error) { return amqp10.New(conn) },
		contract.MQTT:    func(conn contract.Connection) (contract.Factory, error) { return mqtt.New(conn) },
		contract.Kafka:   func(conn contract.Connection) (contract.Factory, error) { return kafka.New(conn) },
		contract.HTTPPush: func(conn contract.Connection) (contract.Factory, error) {
			return httppush.New(conn)
		},
	}

	supervisor := daemon.New(&App{path: *path}, factories)

	if err := supervisor.Start(daemon.DefaultOptions); err != nil {
		slog.Error("connectivityd failed to start", "err", err)
		os.Exit(1)
	}
}
