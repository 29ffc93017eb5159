package contract

import "unicode/utf8"

// Headers is a simple string-to-string header bag. Insertion order is
// not meaningful (spec.md is explicit that it "preserves insertion order
// irrelevant"), so a plain map is the correct representation here.
type Headers map[string]string

const (
	HeaderCorrelationID     = "correlation-id"
	HeaderReplyTo           = "reply-to"
	HeaderContentType       = "content-type"
	HeaderResponseRequired  = "response-required"
	HeaderInboundMapper     = "inbound-payload-mapper"
)

// Clone returns a shallow copy so callers can mutate without aliasing
// the source message's headers.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))

	for k, v := range h {
		out[k] = v
	}

	return out
}

func (h Headers) Get(name string) (string, bool) {
	v, ok := h[name]

	return v, ok
}

// ResponseRequired reports the response-required header, defaulting to
// true when absent (the conservative default: don't silently drop a
// response unless told to).
func (h Headers) ResponseRequired() bool {
	v, ok := h[HeaderResponseRequired]

	if !ok {
		return true
	}

	return v == "true"
}

// ExternalMessage is the external, wire-facing representation of a
// message flowing in either direction between this core and a consumer
// or publisher worker.
type ExternalMessage struct {
	// Bytes is always populated. Text and IsText are additionally set
	// when the payload decodes as valid UTF-8, so mappers that expect
	// text (e.g. the twin-protocol JSON mapper) don't need to redecode.
	Bytes  []byte
	Text   string
	IsText bool

	ContentType string
	Headers     Headers

	SourceAddress        string
	AuthorizationContext []string
	EnforcementFilter    *Enforcement
	PayloadMapping       []string

	// IsResponse marks an outbound message produced from a
	// command-response signal; used to set asResponse-style wrapping
	// semantics on the way out.
	IsResponse bool
}

// NewExternalMessage builds an ExternalMessage from raw bytes, filling
// in Text/IsText when the payload is valid UTF-8.
func NewExternalMessage(payload []byte, headers Headers) ExternalMessage {
	msg := ExternalMessage{
		Bytes:   payload,
		Headers: headers,
	}

	if headers != nil {
		if ct, ok := headers[HeaderContentType]; ok {
			msg.ContentType = ct
		}
	}

	if isValidUTF8(payload) {
		msg.Text = string(payload)
		msg.IsText = true
	}

	return msg
}

func isValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}

// SignalKind identifies the four signal shapes spec.md names.
type SignalKind string

const (
	SignalCommand         SignalKind = "command"
	SignalCommandResponse SignalKind = "command-response"
	SignalEvent           SignalKind = "event"
	SignalErrorResponse   SignalKind = "error-response"
)

// ThingID is the namespaced identity carried by every signal.
type ThingID struct {
	Namespace string
	Name      string
}

func (t ThingID) String() string {
	return t.Namespace + ":" + t.Name
}

func (t ThingID) IsZero() bool {
	return t.Namespace == "" && t.Name == ""
}

// Topic is the parsed topic-path of a signal, used both to route
// outbound fan-out and to synthesize topic placeholders.
type Topic struct {
	Namespace string
	Name      string
	Group     string // e.g. "things"
	Channel   string // "twin" | "live"
	Criterion string // "commands" | "events" | "errors" | "messages"
	Action    string // action-subject, e.g. "modify", "created"
	Subject   string // message subject, channel == "live" && criterion == "messages"
}

// Signal is the internal, typed message this core treats as opaque
// beyond its identity, topic and headers.
type Signal struct {
	Kind    SignalKind
	ThingID ThingID
	Topic   Topic
	Headers Headers
	Payload []byte // raw JSON payload, opaque to this core

	// AuthorizationContext is the resolved set of subjects this signal
	// carries, after any placeholder substitution against the
	// originating message's headers (spec.md §4.4 step 3). Downstream
	// authorization is an external collaborator; this core only
	// resolves and carries the value.
	AuthorizationContext []string

	// Status is set (non-nil) on responses and errors; its presence,
	// not its value, is what callers use to tell a response apart from
	// a command or event.
	Status *int
}

func (s Signal) IsResponse() bool {
	return s.Status != nil
}

func (s Signal) CorrelationID() (string, bool) {
	return s.Headers.Get(HeaderCorrelationID)
}

// WithHeader returns a copy of the signal with one header set, leaving
// the receiver untouched.
func (s Signal) WithHeader(name, value string) Signal {
	out := s
	out.Headers = s.Headers.Clone()
	out.Headers[name] = value

	return out
}
