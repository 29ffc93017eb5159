package mapper

import (
	"context"
	"fmt"

	"github.com/twinmesh/connectivity/contract"
)

// AddHeader passes the payload through unchanged and adds configured
// header pairs in either direction. Options are read as
// "inbound.<name>"/"outbound.<name>" -> value.
type AddHeader struct {
	inbound  map[string]string
	outbound map[string]string
}

func NewAddHeader() *AddHeader {
	return &AddHeader{inbound: map[string]string{}, outbound: map[string]string{}}
}

const (
	inboundPrefix  = "inbound."
	outboundPrefix = "outbound."
)

func (m *AddHeader) Configure(options map[string]string) error {
	for key, value := range options {
		switch {
		case len(key) > len(inboundPrefix) && key[:len(inboundPrefix)] == inboundPrefix:
			m.inbound[key[len(inboundPrefix):]] = value
		case len(key) > len(outboundPrefix) && key[:len(outboundPrefix)] == outboundPrefix:
			m.outbound[key[len(outboundPrefix):]] = value
		default:
			return fmt.Errorf("add-header: unknown option %q, expected inbound.* or outbound.*", key)
		}
	}

	return nil
}

func (m *AddHeader) ContentTypeBlacklist() []string { return nil }

func (m *AddHeader) MapInbound(_ context.Context, message contract.ExternalMessage) ([]contract.Signal, error) {
	headers := message.Headers.Clone()

	if headers == nil {
		headers = contract.Headers{}
	}

	for k, v := range m.inbound {
		headers[k] = v
	}

	return []contract.Signal{{
		Kind:    contract.SignalEvent,
		Headers: headers,
		Payload: message.Bytes,
	}}, nil
}

func (m *AddHeader) MapOutbound(_ context.Context, signal contract.Signal) ([]contract.ExternalMessage, error) {
	headers := signal.Headers.Clone()

	for k, v := range m.outbound {
		headers[k] = v
	}

	msg := contract.NewExternalMessage(signal.Payload, headers)
	msg.IsResponse = signal.IsResponse()

	return []contract.ExternalMessage{msg}, nil
}
