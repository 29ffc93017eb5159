// Package connection implements the per-connection client state
// machine spec.md §4.8 describes: it owns one connection's generation
// lifecycle (dial, start consumers/publisher, teardown), wires the
// mapping registry and processor together, and exposes RetrieveStatus.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twinmesh/connectivity/connection/consumer"
	"github.com/twinmesh/connectivity/connection/publisher"
	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/mapping"
	"github.com/twinmesh/connectivity/mapping/mapper"
	"github.com/twinmesh/connectivity/validate"
)

// DefaultReconnectGracePeriod bounds how long a FailoverEnabled
// connection keeps retrying a failed (or lost) connection before
// giving up and marking the generation fatally failed, per spec.md §7's
// "repeated publisher-start failure within the configured grace
// period" being fatal to the generation.
var DefaultReconnectGracePeriod = 30 * time.Second

// state is a tagged union, not an inheritance hierarchy, per spec.md
// §9: Client dispatches on this value rather than through polymorphic
// state objects.
type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateConnected
	stateDisconnecting
	stateTesting
)

func (s state) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateDisconnecting:
		return "disconnecting"
	case stateTesting:
		return "testing"
	default:
		return "unknown"
	}
}

// FactoryBuilder constructs the protocol-specific Factory for a
// connection snapshot; the transport packages provide one
// implementation per contract.ConnectionType.
type FactoryBuilder func(conn contract.Connection) (contract.Factory, error)

// generation owns the kill-switch and joined termination future for
// one Connected (or Testing) lifetime; a reconnect discards it and
// installs a fresh one rather than mutating it in place. failOnce
// guards against every one of its consumers reporting the same
// unsolicited stream end as a separate ConnectionFailure.
type generation struct {
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	failOnce sync.Once
}

// Client is the per-connection supervisor: one instance per configured
// connection, living for the lifetime of the process (or until deleted
// by the operator).
type Client struct {
	logger  *slog.Logger
	builder FactoryBuilder

	mu    sync.Mutex
	state state
	conn  contract.Connection

	factory   contract.Factory
	mappers   *mapping.Registry
	processor *mapping.Processor
	publish   *publisher.Worker
	gen       *generation

	// epoch is bumped by every explicit Open/Test/Close call. A pending
	// reconnect attempt captures the epoch at the time its
	// ConnectionFailure was observed and aborts as soon as it no longer
	// matches, so an operator's explicit Close is never clobbered by a
	// stale background reconnect.
	epoch uint64

	// failed/failErr record a generation that ended without recovering
	// (either FailoverEnabled was false, or retries ran past
	// DefaultReconnectGracePeriod) — reported by RetrieveStatus as
	// "failed" rather than plain "closed".
	failed  bool
	failErr error
}

// NewClient validates conn and builds the (idle) supervisor for it. The
// connection is not dialed until Open or Test is called.
func NewClient(conn contract.Connection, builder FactoryBuilder, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn.Normalize()

	mappers, err := mapping.NewRegistry(conn.PayloadMapping, mapper.Builtins(), mapper.NewTwinProtocol())

	if err != nil {
		return nil, err
	}

	if err := validate.NewRegistry().Validate(conn, mappers); err != nil {
		return nil, err
	}

	return &Client{
		logger:    logger.With("connection", conn.ID),
		builder:   builder,
		state:     stateDisconnected,
		conn:      conn,
		mappers:   mappers,
		processor: mapping.NewProcessor(mappers, mapping.DefaultLimits, conn.Type, logger),
	}, nil
}

// Open drives Disconnected -> Connecting -> Connected: dials the
// factory, starts the publisher, then starts every source's consumers.
// Reconnection reuses this same path after Close, per spec.md §4.8's
// "implemented by closing and re-entering the machine, not by mutating
// state in place".
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()

	return c.start(ctx, stateConnected, false)
}

// Test drives Disconnected -> Testing -> Disconnected: same startup
// path as Open, but every consumer runs in dry-run mode and the
// generation is torn down immediately after a successful start.
func (c *Client) Test(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()

	if err := c.start(ctx, stateTesting, true); err != nil {
		return err
	}

	return c.Close(ctx)
}

// start drives Disconnected -> Connecting -> target, attempting the
// connect cycle repeatedly with doubling backoff when the connection
// has FailoverEnabled set, per spec.md §4.8's "ConnectionFailure ...
// initiate reconnection (failover-dependent)". Without failover, or
// once DefaultReconnectGracePeriod has elapsed, the first failure is
// returned to the caller and the generation is marked failed. At every
// retry boundary it also checks whether a concurrent explicit Open,
// Test, or Close has superseded this call (by bumping c.epoch) and
// abandons the attempt in progress rather than clobbering it.
func (c *Client) start(ctx context.Context, target state, dryRun bool) error {
	c.mu.Lock()

	if c.state != stateDisconnected {
		c.mu.Unlock()

		return fmt.Errorf("connection %q: cannot open/test from state %s", c.conn.ID, c.state)
	}

	c.state = stateConnecting
	failover := c.conn.FailoverEnabled
	epoch := c.epoch
	c.mu.Unlock()

	delay := publisher.BaseBackoff
	deadline := time.Now().Add(DefaultReconnectGracePeriod)

	for {
		if c.superseded(epoch) {
			return errors.New("connection superseded during connect")
		}

		gen, pub, factory, err := c.attempt(ctx, target, dryRun)

		if err == nil {
			c.mu.Lock()

			if c.epoch != epoch {
				c.mu.Unlock()

				gen.cancel()
				gen.wg.Wait()
				_ = pub.Close()
				_ = factory.Close()

				return errors.New("connection superseded during connect")
			}

			c.factory = factory
			c.publish = pub
			c.gen = gen
			c.state = target
			c.failed = false
			c.failErr = nil
			c.mu.Unlock()

			return nil
		}

		if !failover || !time.Now().Before(deadline) {
			c.toDisconnected()

			c.mu.Lock()
			c.failed = true
			c.failErr = err
			c.mu.Unlock()

			return err
		}

		c.logger.Warn("connection attempt failed, retrying", "err", err, "delay", delay)

		select {
		case <-ctx.Done():
			c.toDisconnected()

			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2

		if delay > publisher.MaxBackoff {
			delay = publisher.MaxBackoff
		}
	}
}

func (c *Client) superseded(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.epoch != epoch
}

// attempt performs exactly one connect cycle: build the factory, dial,
// run the publisher-readiness probe, then start every source's
// consumers. It releases whatever it opened on failure and never
// touches c.state or c.gen itself — the caller (start) commits or
// discards the result.
func (c *Client) attempt(ctx context.Context, target state, dryRun bool) (*generation, *publisher.Worker, contract.Factory, error) {
	factory, err := c.builder(c.conn)

	if err != nil {
		return nil, nil, nil, err
	}

	if err := factory.Dial(ctx); err != nil {
		return nil, nil, nil, err
	}

	pub := publisher.NewWorker(factory, c.logger)

	if err := pub.Probe(ctx, c.conn.Targets); err != nil {
		_ = factory.Close()

		return nil, nil, nil, fmt.Errorf("publisher not ready: %w", err)
	}

	genCtx, cancel := context.WithCancel(context.Background())
	gen := &generation{cancel: cancel}

	for i, source := range c.conn.Sources {
		for consumerIdx := 0; consumerIdx < source.ConsumerCount; consumerIdx++ {
			stream, err := factory.NewConsumer(genCtx, source)

			if err != nil {
				cancel()
				gen.wg.Wait()
				_ = factory.Close()

				return nil, nil, nil, fmt.Errorf("source[%d] consumer[%d]: %w", i, consumerIdx, err)
			}

			worker := &consumer.Worker{
				Source:  source,
				Index:   consumerIdx,
				Logger:  c.logger,
				DryRun:  dryRun,
				Forward: c.forward(pub),
				OnStreamEnded: func() {
					// Run in its own goroutine: teardown waits on gen.wg,
					// which this worker's goroutine is still counted in.
					go c.onGenerationFailure(gen, target, dryRun)
				},
				OnFail: func(ev contract.InboundFailureEvent) {
					c.logger.Warn("inbound message dropped", "source", ev.SourceAddress, "err", ev.Err)
				},
			}

			gen.wg.Add(1)

			go func() {
				defer gen.wg.Done()

				worker.Run(genCtx, stream)
			}()
		}
	}

	return gen, pub, factory, nil
}

// onGenerationFailure reacts to gen's first unsolicited stream end —
// spec.md §4.8's ConnectionFailure transition arriving while already
// Connected, as opposed to CloseConnection. FailoverEnabled connections
// tear the generation down and retry with backoff in the background;
// others are torn down and left Disconnected, marked failed, for an
// operator to re-open explicitly.
func (c *Client) onGenerationFailure(gen *generation, target state, dryRun bool) {
	gen.failOnce.Do(func() {
		c.mu.Lock()

		if c.gen != gen || c.state != stateConnected {
			c.mu.Unlock()

			return
		}

		epoch := c.epoch
		failover := c.conn.FailoverEnabled
		c.mu.Unlock()

		c.logger.Warn("connection lost", "failover", failover)
		c.teardown()

		if !failover {
			c.mu.Lock()
			c.failed = true
			c.failErr = errors.New("connection lost")
			c.mu.Unlock()

			return
		}

		go c.reconnect(epoch, target, dryRun)
	})
}

// reconnect re-enters start() in the background after an unsolicited
// ConnectionFailure, per spec.md §4.8's "reconnection is implemented
// by closing and re-entering the machine". start() itself already owns
// the doubling-backoff retry loop bounded by DefaultReconnectGracePeriod
// and the epoch check that aborts it if superseded, so reconnect only
// needs to bail out early when an explicit Open/Test/Close has already
// raced ahead of it.
func (c *Client) reconnect(epoch uint64, target state, dryRun bool) {
	if c.superseded(epoch) {
		return
	}

	if err := c.start(context.Background(), target, dryRun); err != nil {
		c.logger.Warn("reconnect attempt failed", "err", err)
	}
}

// forward builds the Forward callback a consumer.Worker uses to hand a
// built ExternalMessage to the mapping processor, then fan the
// resulting signals back out through the publisher worker against the
// connection's configured targets.
func (c *Client) forward(pub *publisher.Worker) consumer.Forward {
	return func(ctx context.Context, source contract.Source, message contract.ExternalMessage) error {
		result, err := c.processor.ProcessInbound(ctx, source, message)

		if err != nil {
			return err
		}

		var errs []error

		for _, signal := range append(result.Signals, result.ErrorResponses...) {
			if mapping.ShouldSuppress(signal) {
				continue
			}

			outbound, err := c.processor.ProcessOutbound(ctx, signal, c.conn.Targets)

			if err != nil {
				errs = append(errs, err)

				continue
			}

			for _, o := range outbound {
				if err := pub.Publish(ctx, publisher.Request{Target: o.Target, Message: o.Message}); err != nil {
					errs = append(errs, err)
				}
			}
		}

		return errors.Join(errs...)
	}
}

// Close drives Connected/Testing -> Disconnecting -> Disconnected:
// activates the generation's kill-switch, waits for every consumer
// stream to finish, then stops the publisher and factory. It also
// bumps epoch, so any background reconnect still in flight for this
// connection sees itself superseded and abandons its attempt rather
// than reopening a connection the caller just explicitly closed.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++

	if c.state == stateDisconnected {
		c.mu.Unlock()

		return nil
	}

	c.state = stateDisconnecting
	c.mu.Unlock()

	c.teardown()

	return nil
}

// teardown cancels the current generation's kill-switch, waits for its
// consumers to finish, closes the publisher and factory, and returns
// to Disconnected. Shared by an explicit Close and an unsolicited
// ConnectionFailure (onGenerationFailure).
func (c *Client) teardown() {
	c.mu.Lock()
	gen := c.gen
	pub := c.publish
	factory := c.factory
	c.mu.Unlock()

	if gen != nil {
		gen.cancel()
		gen.wg.Wait()
	}

	if pub != nil {
		_ = pub.Close()
	}

	if factory != nil {
		_ = factory.Close()
	}

	c.toDisconnected()
}

func (c *Client) toDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = stateDisconnected
	c.gen = nil
	c.publish = nil
	c.factory = nil
}

// RetrieveStatus reports the aggregated per-address status of every
// configured source and target, per spec.md §4.8. A connection that
// gave up reconnecting (FailoverEnabled false, or retries ran past
// DefaultReconnectGracePeriod) reports "failed" with the detail that
// caused it, rather than plain "closed".
func (c *Client) RetrieveStatus() []contract.AddressStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]contract.AddressStatus, 0, len(c.conn.Sources)+len(c.conn.Targets))

	status := "closed"
	detail := ""

	switch {
	case c.state == stateConnected:
		status = "open"
	case c.failed:
		status = "failed"

		if c.failErr != nil {
			detail = c.failErr.Error()
		}
	}

	for _, s := range c.conn.Sources {
		for _, addr := range s.Addresses {
			out = append(out, contract.AddressStatus{Address: addr, State: status, Detail: detail})
		}
	}

	for _, t := range c.conn.Targets {
		out = append(out, contract.AddressStatus{Address: t.Address, State: status, Detail: detail})
	}

	return out
}
