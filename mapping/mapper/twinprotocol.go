// Package mapper holds the built-in payload mappers spec.md §4.2
// enumerates: the twin-protocol passthrough (the always-present
// "default"), the header-adding mapper, the Hono ConnectionStatus
// mapper, and a stub extension point for a host-supplied custom
// transformer.
package mapper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/mapping"
)

// TwinProtocol parses/serializes the canonical JSON envelope directly;
// it is the mapper every connection falls back to when a source or
// target names no explicit payload-mapping list.
type TwinProtocol struct{}

func NewTwinProtocol() *TwinProtocol { return &TwinProtocol{} }

func (m *TwinProtocol) Configure(map[string]string) error { return nil }

func (m *TwinProtocol) ContentTypeBlacklist() []string { return nil }

func (m *TwinProtocol) MapInbound(_ context.Context, message contract.ExternalMessage) ([]contract.Signal, error) {
	var env mapping.Envelope

	if err := json.Unmarshal(message.Bytes, &env); err != nil {
		return nil, fmt.Errorf("twin protocol: decode envelope: %w", err)
	}

	topic, err := mapping.ParseTopic(env.Topic)

	if err != nil {
		return nil, fmt.Errorf("twin protocol: %w", err)
	}

	headers := contract.Headers(env.Headers)

	if headers == nil {
		headers = contract.Headers{}
	}

	thingID := contract.ThingID{Namespace: topic.Namespace, Name: topic.Name}

	signal := contract.Signal{
		ThingID: thingID,
		Topic:   topic,
		Headers: headers,
		Payload: env.Value,
		Status:  env.Status,
	}

	signal.Kind = kindFor(topic, env.Status)

	return []contract.Signal{signal}, nil
}

func kindFor(topic contract.Topic, status *int) contract.SignalKind {
	switch {
	case topic.Criterion == "errors":
		return contract.SignalErrorResponse
	case status != nil:
		return contract.SignalCommandResponse
	case topic.Criterion == "events":
		return contract.SignalEvent
	default:
		return contract.SignalCommand
	}
}

func (m *TwinProtocol) MapOutbound(_ context.Context, signal contract.Signal) ([]contract.ExternalMessage, error) {
	env := mapping.Envelope{
		Topic:   mapping.TopicString(signal.Topic),
		Headers: map[string]string(signal.Headers),
		Path:    "/",
		Value:   signal.Payload,
		Status:  signal.Status,
	}

	encoded, err := json.Marshal(env)

	if err != nil {
		return nil, fmt.Errorf("twin protocol: encode envelope: %w", err)
	}

	msg := contract.NewExternalMessage(encoded, signal.Headers.Clone())
	msg.ContentType = mapping.TwinProtocolContentType
	msg.Headers[contract.HeaderContentType] = mapping.TwinProtocolContentType
	msg.IsResponse = signal.IsResponse()

	return []contract.ExternalMessage{msg}, nil
}
