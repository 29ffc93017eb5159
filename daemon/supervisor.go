// Package daemon supervises a fleet of connection.Client state
// machines for the process's lifetime, mirroring the teacher's
// atlas.Atlas start/stop/signal-handling lifecycle but driving
// connections instead of an HTTP server.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/twinmesh/connectivity/connection"
	"github.com/twinmesh/connectivity/contract"
)

var (
	ErrAlreadyStarted = errors.New("daemon already started")
	ErrNotStarted     = errors.New("daemon not started")
)

// Supervisor owns one connection.Client per configured connection and
// drives every client's Open/Close in lockstep with process lifetime.
type Supervisor struct {
	app       App
	factories map[contract.ConnectionType]connection.FactoryBuilder
	ops       Options

	mu      sync.Mutex
	clients []*connection.Client
}

// New builds a Supervisor for app, dispatching connection.Client's
// FactoryBuilder by connection type through factories (typically
// transport/{amqp091,amqp10,mqtt,kafka,httppush}.New).
func New(app App, factories map[contract.ConnectionType]connection.FactoryBuilder) *Supervisor {
	return &Supervisor{app: app, factories: factories, ops: DefaultOptions}
}

func (s *Supervisor) isStarted() bool {
	return s.clients != nil
}

func (s *Supervisor) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.isStarted()
}

// Start opens every connection the App reports, then blocks until
// SIGINT or SIGTERM arrives and drives a graceful Stop. If the
// connections cannot be loaded, built or opened, Start returns that
// error at once without calling Stop; connections opened before the
// failure are not closed.
func (s *Supervisor) Start(ops Options) error {
	s.mu.Lock()

	if s.isStarted() {
		s.mu.Unlock()

		return ErrAlreadyStarted
	}

	s.ops = ops

	if s.ops.Logger == nil {
		s.ops.Logger = DefaultOptions.Logger
	}

	if s.ops.ShutdownTimeout == 0 {
		s.ops.ShutdownTimeout = DefaultOptions.ShutdownTimeout
	}

	if h, ok := s.app.(BeforeStart); ok {
		h.BeforeStart()
	}

	conns, err := s.app.Connections()

	if err != nil {
		s.mu.Unlock()

		return fmt.Errorf("daemon: load connections: %w", err)
	}

	s.ops.Logger.Info("daemon starting", "connections", len(conns))

	clients := make([]*connection.Client, 0, len(conns))

	for _, conn := range conns {
		builder, ok := s.factories[conn.Type]

		if !ok {
			s.mu.Unlock()

			return fmt.Errorf("daemon: no transport registered for connection type %q", conn.Type)
		}

		client, err := connection.NewClient(conn, builder, s.ops.Logger)

		if err != nil {
			s.mu.Unlock()

			return fmt.Errorf("daemon: connection %q: %w", conn.ID, err)
		}

		if conn.Status == contract.StatusOpen {
			if err := client.Open(context.Background()); err != nil {
				s.mu.Unlock()

				return fmt.Errorf("daemon: connection %q: open: %w", conn.ID, err)
			}
		}

		clients = append(clients, client)
	}

	s.clients = clients
	s.mu.Unlock()

	s.ops.Logger.Info("daemon started")

	if h, ok := s.app.(AfterStart); ok {
		h.AfterStart()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	return s.Stop()
}

// Stop closes every open client's connection, bounded by
// ops.ShutdownTimeout.
func (s *Supervisor) Stop() error {
	s.mu.Lock()

	if !s.isStarted() {
		s.mu.Unlock()

		return ErrNotStarted
	}

	s.ops.Logger.Info("daemon shutting down")

	if h, ok := s.app.(BeforeShutdown); ok {
		h.BeforeShutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ops.ShutdownTimeout)
	defer cancel()

	var errs []error

	for _, client := range s.clients {
		if err := client.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	s.clients = nil
	s.mu.Unlock()

	s.ops.Logger.Info("daemon shut down")

	if h, ok := s.app.(AfterShutdown); ok {
		h.AfterShutdown()
	}

	return errors.Join(errs...)
}
