// Package mapping orchestrates header mapping, payload-mapper fan-out,
// enforcement and address resolution between external messages and
// internal signals (spec.md §4.2–§4.4).
package mapping

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/twinmesh/connectivity/contract"
)

// TwinProtocolContentType is the content type that routes a message to
// the default twin-protocol mapper.
const TwinProtocolContentType = "application/vnd.eclipse.ditto+json"

// Envelope is the minimal wire shape of the twin protocol this core
// needs: enough to recover a signal's identity, topic and headers. The
// full JSON schema and topic grammar are treated as the twin-protocol
// adapter's responsibility (spec.md §1, §9's open question) — this is
// deliberately not a complete implementation of that grammar.
type Envelope struct {
	Topic   string            `json:"topic"`
	Headers map[string]string `json:"headers,omitempty"`
	Path    string            `json:"path"`
	Value   json.RawMessage   `json:"value,omitempty"`
	Status  *int              `json:"status,omitempty"`
}

// errInvalidTopic describes a malformed or unsupported topic-path.
type errInvalidTopic struct {
	topic string
}

func (e *errInvalidTopic) Error() string {
	return fmt.Sprintf("invalid topic path: %q", e.topic)
}

// ParseTopic splits a twin-protocol topic string
// "<namespace>/<name>/<group>/<channel>/<criterion>[/<action>]" into its
// fields.
func ParseTopic(topic string) (contract.Topic, error) {
	parts := strings.Split(topic, "/")

	if len(parts) < 5 {
		return contract.Topic{}, &errInvalidTopic{topic: topic}
	}

	t := contract.Topic{
		Namespace: parts[0],
		Name:      parts[1],
		Group:     parts[2],
		Channel:   parts[3],
		Criterion: parts[4],
	}

	if len(parts) >= 6 {
		if t.Channel == "live" && t.Criterion == "messages" {
			t.Subject = strings.Join(parts[5:], "/")
		} else {
			t.Action = parts[5]
		}
	}

	if t.Channel != "twin" && t.Channel != "live" {
		return contract.Topic{}, &errInvalidTopic{topic: topic}
	}

	return t, nil
}

// TopicString renders a Topic back to the wire grammar, used when
// synthesizing error envelopes that must address the inbound thing.
func TopicString(t contract.Topic) string {
	tail := t.Action

	if t.Subject != "" {
		tail = t.Subject
	}

	if tail == "" {
		return strings.Join([]string{t.Namespace, t.Name, t.Group, t.Channel, t.Criterion}, "/")
	}

	return strings.Join([]string{t.Namespace, t.Name, t.Group, t.Channel, t.Criterion, tail}, "/")
}

// kindOf classifies an envelope's signal kind from its topic criterion
// and the presence of a status (a response/error always carries one).
func kindOf(t contract.Topic, status *int) contract.SignalKind {
	switch {
	case t.Criterion == "errors":
		return contract.SignalErrorResponse
	case status != nil:
		return contract.SignalCommandResponse
	case t.Criterion == "events":
		return contract.SignalEvent
	default:
		return contract.SignalCommand
	}
}

// ErrorsTopic builds the topic string for an error-response addressed
// back to the given thing and channel, per spec.md §4.4: "ns/name/things/
// <channel>/errors".
func ErrorsTopic(id contract.ThingID, channel string) string {
	if channel == "" {
		channel = "twin"
	}

	return strings.Join([]string{id.Namespace, id.Name, "things", channel, "errors"}, "/")
}
