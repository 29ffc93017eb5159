// Package publisher implements the per-connection publisher worker:
// it owns every outbound handle for a connection, recreating them with
// exponential backoff when the underlying protocol factory reports a
// handle closed or failed.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/placeholder"
)

// BaseBackoff and MaxBackoff match spec.md §5/§8's documented
// timeouts: backoff starts at 1 s, doubles on each consecutive failure,
// and this implementation caps it at one minute — the "sane maximum"
// the spec leaves to implementations.
const (
	BaseBackoff = time.Second
	MaxBackoff  = time.Minute
)

// DefaultProbeTimeout bounds the publisher-readiness probe, spec.md §5's
// "ask-style status queries (bounded timeout, default 1 s for
// publisher-readiness probe)".
const DefaultProbeTimeout = time.Second

// Request is one outbound message queued for a resolved address.
type Request struct {
	Target  contract.PublishTarget
	Message contract.ExternalMessage
}

// handle is the worker's private bookkeeping for one resolved address;
// it is only read or written while holding Worker.mu.
type handle struct {
	conn         contract.OutboundHandle
	failures     int
	backoffUntil time.Time
}

// Worker owns the address->handle map for one connection.
type Worker struct {
	factory contract.Factory
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex // guards handles
	handles map[string]*handle
}

func NewWorker(factory contract.Factory, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		factory: factory,
		logger:  logger,
		now:     time.Now,
		handles: make(map[string]*handle),
	}
}

// Publish sends one request, creating or recreating the address's
// handle as needed and respecting an in-progress backoff window. QoS
// is taken from the target (default 0) and used whenever a handle for
// that address is created or recreated, per spec.md §4.7 step 3.
func (w *Worker) Publish(ctx context.Context, req Request) error {
	w.mu.Lock()
	h, ok := w.handles[req.Target.Address]

	if ok && w.now().Before(h.backoffUntil) {
		w.mu.Unlock()

		return nil
	}
	w.mu.Unlock()

	qos := 0

	if req.Target.Target.QoS != nil {
		qos = *req.Target.Target.QoS
	}

	conn, err := w.ensureHandle(ctx, req.Target.Address, qos)

	if err != nil {
		return err
	}

	if err := conn.Send(ctx, req.Message); err != nil {
		w.onClosed(req.Target.Address)

		return err
	}

	return nil
}

// ensureHandle returns the current handle for address, dialing a new
// one via the factory when none exists yet (first use, or a prior
// backoff has just elapsed).
func (w *Worker) ensureHandle(ctx context.Context, address string, qos int) (contract.OutboundHandle, error) {
	w.mu.Lock()
	h, ok := w.handles[address]

	if ok && h.conn != nil {
		conn := h.conn
		w.mu.Unlock()

		return conn, nil
	}
	w.mu.Unlock()

	conn, err := w.factory.NewPublishHandle(ctx, address, qos)

	if err != nil {
		w.logger.Warn("publish handle creation failed", "address", address, "err", err)

		return nil, err
	}

	w.mu.Lock()
	if h, ok = w.handles[address]; !ok {
		h = &handle{}
		w.handles[address] = h
	}

	h.conn = conn
	w.mu.Unlock()

	return conn, nil
}

// Probe establishes a publish handle for every literal
// (placeholder-free) target address up front, bounded by
// DefaultProbeTimeout, so the client state machine only starts
// consumers once the publisher side has proven it can actually reach
// the broker (spec.md §4.8's "on publisher-ready, start consumers").
// Targets whose address still carries a "{{ ns:name }}" placeholder
// are resolved per-signal and have nothing to probe yet; Publish
// creates their handle lazily on first use, same as today.
func (w *Worker) Probe(ctx context.Context, targets []contract.Target) error {
	probeCtx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	for _, target := range targets {
		if placeholder.HasPlaceholder(target.Address) {
			continue
		}

		qos := 0

		if target.QoS != nil {
			qos = *target.QoS
		}

		if _, err := w.ensureHandle(probeCtx, target.Address, qos); err != nil {
			return fmt.Errorf("publisher-readiness probe: target %q: %w", target.Address, err)
		}
	}

	return nil
}

// OnClosed is called by a consumer of the factory's closure
// notifications (ProducerClosedStatusReport or equivalent) when a
// handle for address has been closed or failed. Per spec.md §8
// scenario 6, additional notifications for the same address arriving
// while a backoff window is already running are dropped.
func (w *Worker) OnClosed(address string) {
	w.onClosed(address)
}

func (w *Worker) onClosed(address string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	h, ok := w.handles[address]

	if !ok {
		h = &handle{}
		w.handles[address] = h
	}

	if w.now().Before(h.backoffUntil) {
		// a backoff window for this address is already running;
		// this closure report is dropped, per spec.md §8 scenario 6.
		return
	}

	if h.conn != nil {
		_ = h.conn.Close()
		h.conn = nil
	}

	delay := BaseBackoff << h.failures

	if delay > MaxBackoff || delay <= 0 {
		delay = MaxBackoff
	}

	h.failures++
	h.backoffUntil = w.now().Add(delay)

	w.logger.Debug("publish handle closed, entering backoff", "address", address, "delay", delay, "failures", h.failures)
}

// Close closes every open handle this worker owns.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, h := range w.handles {
		if h.conn != nil {
			_ = h.conn.Close()
			h.conn = nil
		}
	}

	return nil
}
