package contract

import "context"

// Mapper converts between external messages and internal signals. It is
// the polymorphic contract spec.md §4.2 describes: configure once from a
// MappingContext's options, then translate messages in either direction
// any number of times.
type Mapper interface {
	// Configure applies mapper-specific options. Called once, right
	// after construction, before any MapInbound/MapOutbound call.
	Configure(options map[string]string) error

	// MapInbound turns one external message into zero or more signals.
	// An empty, nil-error result means the mapper had nothing to
	// produce for this message (e.g. the ConnectionStatus mapper on
	// malformed headers) — it is not a failure.
	MapInbound(ctx context.Context, message ExternalMessage) ([]Signal, error)

	// MapOutbound turns one signal into zero or more external messages.
	MapOutbound(ctx context.Context, signal Signal) ([]ExternalMessage, error)

	// ContentTypeBlacklist lists content types this mapper refuses to
	// handle inbound; the processor skips straight to the next mapper
	// in the fan-out list for a blacklisted content type.
	ContentTypeBlacklist() []string
}

// InboundEnvelope is what a protocol Factory's consumer stream yields:
// the raw wire message plus enough protocol detail for the consumer
// worker to build an ExternalMessage and acknowledge it.
type InboundEnvelope struct {
	Payload []byte
	Headers Headers
	// Address is the actual wire-level topic/queue/routing-key the
	// message arrived on, used to resolve "source:address".
	Address string
	// Ack must be called exactly once, whether or not the message was
	// processed successfully, so the upstream stream element is
	// acknowledged and does not block the head of the line.
	Ack func()
}

// OutboundHandle is a protocol-specific handle capable of sending one
// serialized external message to one resolved address.
type OutboundHandle interface {
	Send(ctx context.Context, message ExternalMessage) error
	Close() error
}

// Factory is implemented once per connection type (amqp-091, amqp-10,
// mqtt, kafka, http-push). The client state machine drives it through
// Dial/NewConsumer/NewPublishHandle/Close; everything protocol-specific
// lives behind this seam.
type Factory interface {
	// Dial establishes (or verifies, in test mode) the underlying
	// connection. Must be safe to call once per generation.
	Dial(ctx context.Context) error

	// NewConsumer opens a stream of InboundEnvelope for one source's
	// addresses. The returned channel is closed when ctx is cancelled
	// (the generation's kill-switch) or the stream ends.
	NewConsumer(ctx context.Context, source Source) (<-chan InboundEnvelope, error)

	// NewPublishHandle creates (or recreates, after backoff) a handle
	// capable of publishing to the given resolved address.
	NewPublishHandle(ctx context.Context, address string, qos int) (OutboundHandle, error)

	// Close releases the underlying connection and anything it owns.
	Close() error
}

// InboundFailureEvent is emitted by a consumer worker when it cannot
// build an ExternalMessage from a wire delivery (e.g. a malformed
// protocol-level property). The stream is not torn down; the failing
// element is still acknowledged.
type InboundFailureEvent struct {
	SourceAddress string
	PayloadSize   int
	Err           error
}

// AddressStatus is one entry of the per-address status a client state
// machine reports on RetrieveStatus.
type AddressStatus struct {
	Address string
	State   string // "open" | "closed" | "failed"
	Detail  string
}
