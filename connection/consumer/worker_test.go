package consumer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twinmesh/connectivity/connection/consumer"
	"github.com/twinmesh/connectivity/contract"
)

func TestWorkerReportsStreamEndedOnUnsolicitedClose(t *testing.T) {
	ended := false

	w := &consumer.Worker{
		Forward: func(context.Context, contract.Source, contract.ExternalMessage) error { return nil },
		OnStreamEnded: func() {
			ended = true
		},
	}

	stream := make(chan contract.InboundEnvelope)
	close(stream)

	w.Run(context.Background(), stream)

	require.True(t, ended)
}

func TestWorkerDoesNotReportStreamEndedOnCancel(t *testing.T) {
	ended := false

	w := &consumer.Worker{
		Forward: func(context.Context, contract.Source, contract.ExternalMessage) error { return nil },
		OnStreamEnded: func() {
			ended = true
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := make(chan contract.InboundEnvelope)

	w.Run(ctx, stream)

	require.False(t, ended)
}

func TestWorkerForwardsAndAcks(t *testing.T) {
	acked := false
	var forwarded contract.ExternalMessage

	w := &consumer.Worker{
		Source: contract.Source{},
		Forward: func(_ context.Context, _ contract.Source, msg contract.ExternalMessage) error {
			forwarded = msg

			return nil
		},
	}

	stream := make(chan contract.InboundEnvelope, 1)
	stream <- contract.InboundEnvelope{
		Payload: []byte(`{"hello":"world"}`),
		Headers: contract.Headers{"content-type": "application/json"},
		Address: "my/topic",
		Ack:     func() { acked = true },
	}
	close(stream)

	w.Run(context.Background(), stream)

	require.True(t, acked)
	require.Equal(t, "my/topic", forwarded.SourceAddress)
	require.True(t, forwarded.IsText)
}

func TestWorkerResolvesEnforcementInputEarly(t *testing.T) {
	var forwarded contract.ExternalMessage

	w := &consumer.Worker{
		Source: contract.Source{
			Enforcement: &contract.Enforcement{
				Input:   "{{ source:address }}",
				Filters: []string{"mqtt/topic/{{ thing:namespace }}/{{ thing:name }}"},
			},
		},
		Forward: func(_ context.Context, _ contract.Source, msg contract.ExternalMessage) error {
			forwarded = msg

			return nil
		},
	}

	stream := make(chan contract.InboundEnvelope, 1)
	stream <- contract.InboundEnvelope{
		Payload: []byte(`{}`),
		Address: "mqtt/topic/my.ns/my-thing",
		Ack:     func() {},
	}
	close(stream)

	w.Run(context.Background(), stream)

	require.NotNil(t, forwarded.EnforcementFilter)
	require.Equal(t, "mqtt/topic/my.ns/my-thing", forwarded.EnforcementFilter.Input)
}

func TestWorkerDryRunNeverForwards(t *testing.T) {
	called := false

	w := &consumer.Worker{
		DryRun: true,
		Forward: func(context.Context, contract.Source, contract.ExternalMessage) error {
			called = true

			return nil
		},
	}

	acked := false
	stream := make(chan contract.InboundEnvelope, 1)
	stream <- contract.InboundEnvelope{Payload: []byte(`{}`), Ack: func() { acked = true }}
	close(stream)

	w.Run(context.Background(), stream)

	require.False(t, called)
	require.True(t, acked)
}

func TestWorkerReportsFailureWithoutTearingDownStream(t *testing.T) {
	var failure contract.InboundFailureEvent
	failed := false

	w := &consumer.Worker{
		Forward: func(context.Context, contract.Source, contract.ExternalMessage) error {
			return context.DeadlineExceeded
		},
		OnFail: func(ev contract.InboundFailureEvent) {
			failed = true
			failure = ev
		},
	}

	acked := false
	stream := make(chan contract.InboundEnvelope, 1)
	stream <- contract.InboundEnvelope{Payload: []byte(`{}`), Address: "a", Ack: func() { acked = true }}
	close(stream)

	w.Run(context.Background(), stream)

	require.True(t, acked)
	require.True(t, failed)
	require.Equal(t, "a", failure.SourceAddress)
}
