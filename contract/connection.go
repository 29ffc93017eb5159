// Package contract holds the shared types and interfaces that every
// other package in this module depends on: the connection/source/target
// data model, the external-message and signal wire types, and the small
// set of interfaces (Mapper, Factory) that protocol- and mapping-specific
// code implements. Nothing in this package imports anything else from
// this module, mirroring the teacher's own "contract has no internal
// dependents" layering.
package contract

// ConnectionType identifies which external messaging protocol a
// connection speaks.
type ConnectionType string

const (
	AMQP091  ConnectionType = "amqp-091"
	AMQP10   ConnectionType = "amqp-10"
	MQTT     ConnectionType = "mqtt"
	Kafka    ConnectionType = "kafka"
	HTTPPush ConnectionType = "http-push"
)

// ConnectionStatus is the desired administrative state of a connection.
type ConnectionStatus string

const (
	StatusOpen   ConnectionStatus = "open"
	StatusClosed ConnectionStatus = "closed"
)

// Enforcement ties a resolved wire-level input value to a set of
// candidate filter templates; the mapped signal's thing identity must
// resolve at least one filter to the same value as the input.
type Enforcement struct {
	Input   string
	Filters []string
}

// MappingContext names a payload mapper implementation (by alias-free
// "engine" identifier, e.g. "default", "ConnectionStatus", "JavaScript") plus the
// options it is configured with. Multiple aliases in a connection's
// PayloadMapping map may point at the same Engine with different Options.
type MappingContext struct {
	Engine  string            `json:"mappingEngine"`
	Options map[string]string `json:"options"`
}

// Source is one inbound subscription fragment of a connection.
type Source struct {
	// Index disambiguates otherwise-equal sources; populated by the
	// connection loader at snapshot time, not left to callers.
	Index int

	Addresses             []string          `json:"addresses"`
	ConsumerCount         int               `json:"consumerCount"`
	QoS                   *int              `json:"qos,omitempty"`
	AuthorizationContext  []string          `json:"authorizationContext"`
	Enforcement           *Enforcement      `json:"enforcement,omitempty"`
	HeaderMapping         map[string]string `json:"headerMapping,omitempty"`
	PayloadMapping        []string          `json:"payloadMapping,omitempty"`
}

// Target is one outbound publish fragment of a connection.
type Target struct {
	// Address may contain placeholders; Original is the unresolved,
	// literal address string preserved for logging even after Address
	// has been placeholder-resolved for a particular signal.
	Address  string `json:"address"`
	Original string `json:"-"`

	Topics                []string          `json:"topics"`
	AuthorizationContext  []string          `json:"authorizationContext"`
	QoS                   *int              `json:"qos,omitempty"`
	HeaderMapping         map[string]string `json:"headerMapping,omitempty"`
	PayloadMapping        []string          `json:"payloadMapping,omitempty"`
}

// Connection is the full configuration of one external link, captured as
// an immutable snapshot for the lifetime of one client state machine
// generation.
type Connection struct {
	ID              string                    `json:"id"`
	Type            ConnectionType            `json:"connectionType"`
	Status          ConnectionStatus          `json:"connectionStatus"`
	FailoverEnabled bool                      `json:"failoverEnabled"`
	URI             string                    `json:"uri"`
	Sources         []Source                  `json:"sources"`
	Targets         []Target                  `json:"targets"`
	ClientCount     int                       `json:"clientCount"`
	DefaultAuthorizationContext []string      `json:"defaultAuthorizationContext,omitempty"`
	PayloadMapping  map[string]MappingContext `json:"mappingDefinitions"`
}

// Normalize fills in the defaults spec.md requires (client/consumer
// counts of at least 1, MQTT capped at 1, stable source indices) and
// must be called once when a connection snapshot is taken, before it is
// handed to a client state machine.
func (c *Connection) Normalize() {
	if c.ClientCount < 1 {
		c.ClientCount = 1
	}

	if c.Type == MQTT {
		c.ClientCount = 1
	}

	for i := range c.Sources {
		c.Sources[i].Index = i

		if c.Sources[i].ConsumerCount < 1 {
			c.Sources[i].ConsumerCount = 1
		}

		if c.Type == MQTT {
			c.Sources[i].ConsumerCount = 1
		}
	}
}

// PublishTarget is a resolved outbound address ready to hand to a
// publisher, plus the original literal address for logging.
type PublishTarget struct {
	Address  string
	Original string
	Target   Target
}
