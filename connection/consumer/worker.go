// Package consumer implements the per-source, per-consumer-index
// worker that reads one protocol factory's inbound stream, builds
// external messages, and hands them to the connection's mapping
// processor.
package consumer

import (
	"context"
	"log/slog"

	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/placeholder"
)

// Forward delivers one built external message to the connection's
// mapping processor; returning an error does not tear down the stream
// (spec.md §7's propagation policy: consumer parse/forward failures
// are reported, never fatal to the connection).
type Forward func(ctx context.Context, source contract.Source, message contract.ExternalMessage) error

// FailureSink receives an InboundFailureEvent for any wire delivery
// this worker could not turn into an ExternalMessage or forward.
type FailureSink func(contract.InboundFailureEvent)

// Worker consumes one source's stream for one consumer index.
type Worker struct {
	Source  contract.Source
	Index   int
	Forward Forward
	OnFail  FailureSink
	Logger  *slog.Logger

	// DryRun discards every built message before Forward is called,
	// used by the client state machine's test-connection mode (spec.md
	// §4.8/§8's "test-mode success is signalled when all stream
	// subscriptions have reported Success").
	DryRun bool

	// OnStreamEnded, if set, is invoked exactly once when stream closes
	// on its own — the protocol factory ending it — rather than ctx
	// being cancelled by the generation's kill-switch. This is the
	// unsolicited ConnectionFailure spec.md §4.8 names, as distinct
	// from an intentional CloseConnection teardown.
	OnStreamEnded func()
}

// Run reads stream until it is closed (by the generation's kill-switch
// cancelling ctx, or the protocol factory ending the stream) or ctx is
// done, building and forwarding one ExternalMessage per delivery.
func (w *Worker) Run(ctx context.Context, stream <-chan contract.InboundEnvelope) {
	logger := w.Logger

	if logger == nil {
		logger = slog.Default()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-stream:
			if !ok {
				if ctx.Err() == nil && w.OnStreamEnded != nil {
					w.OnStreamEnded()
				}

				return
			}

			w.handle(ctx, envelope, logger)
		}
	}
}

func (w *Worker) handle(ctx context.Context, envelope contract.InboundEnvelope, logger *slog.Logger) {
	defer envelope.Ack()

	message := contract.NewExternalMessage(envelope.Payload, envelope.Headers)
	message.SourceAddress = envelope.Address
	message.AuthorizationContext = w.Source.AuthorizationContext
	message.PayloadMapping = w.Source.PayloadMapping

	if w.Source.Enforcement != nil {
		// The enforcement input is resolved here, early, against
		// "source:address" — the one namespace this worker has before
		// the message is mapped into a signal and a thing identity
		// becomes known (spec.md §4.6). Only the literal result is
		// carried forward; the filters are resolved later, by the
		// processor, against that identity.
		resolved, err := placeholder.New(placeholder.SourceNamespace(envelope.Address)).
			Resolve(w.Source.Enforcement.Input, true)

		if err != nil {
			w.reportFailure(envelope, err, logger)

			return
		}

		message.EnforcementFilter = &contract.Enforcement{
			Input:   resolved,
			Filters: w.Source.Enforcement.Filters,
		}
	}

	if w.DryRun {
		return
	}

	if err := w.Forward(ctx, w.Source, message); err != nil {
		w.reportFailure(envelope, err, logger)
	}
}

func (w *Worker) reportFailure(envelope contract.InboundEnvelope, err error, logger *slog.Logger) {
	logger.Warn("consumer failed to process inbound message", "source", envelope.Address, "err", err)

	if w.OnFail != nil {
		w.OnFail(contract.InboundFailureEvent{
			SourceAddress: envelope.Address,
			PayloadSize:   len(envelope.Payload),
			Err:           err,
		})
	}
}
