package mapping_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/mapping"
	"github.com/twinmesh/connectivity/mapping/mapper"
)

func newProcessor(t *testing.T, connType contract.ConnectionType) (*mapping.Processor, *mapping.Registry) {
	t.Helper()

	registry, err := mapping.NewRegistry(nil, mapper.Builtins(), mapper.NewTwinProtocol())
	require.NoError(t, err)

	return mapping.NewProcessor(registry, mapping.DefaultLimits, connType, slog.Default()), registry
}

func envelope(topic, correlationID string) contract.ExternalMessage {
	body := `{"topic":"` + topic + `","headers":{"correlation-id":"` + correlationID + `"},"path":"/","value":{}}`

	msg := contract.NewExternalMessage([]byte(body), contract.Headers{"correlation-id": correlationID})
	msg.ContentType = mapping.TwinProtocolContentType

	return msg
}

func TestProcessInboundPropagatesCorrelationID(t *testing.T) {
	p, _ := newProcessor(t, contract.MQTT)

	msg := envelope("my.ns/my-thing/things/twin/commands/modify", "C-1")

	result, err := p.ProcessInbound(context.Background(), contract.Source{}, msg)
	require.NoError(t, err)
	require.Len(t, result.Signals, 1)

	cid, ok := result.Signals[0].CorrelationID()
	require.True(t, ok)
	require.Equal(t, "C-1", cid)
	require.Equal(t, "default", result.Signals[0].Headers[contract.HeaderInboundMapper])
}

func TestProcessInboundGeneratesCorrelationIDWhenAbsent(t *testing.T) {
	p, _ := newProcessor(t, contract.MQTT)

	body := `{"topic":"my.ns/my-thing/things/twin/events/created","headers":{},"path":"/","value":{}}`
	msg := contract.NewExternalMessage([]byte(body), contract.Headers{})
	msg.ContentType = mapping.TwinProtocolContentType

	result, err := p.ProcessInbound(context.Background(), contract.Source{}, msg)
	require.NoError(t, err)
	require.Len(t, result.Signals, 1)

	cid, ok := result.Signals[0].CorrelationID()
	require.True(t, ok)
	require.NotEmpty(t, cid)
}

// TestAuthorizationContextPlaceholders reproduces spec.md §8 scenario 4.
func TestAuthorizationContextPlaceholders(t *testing.T) {
	p, _ := newProcessor(t, contract.MQTT)

	body := `{"topic":"my.ns/my-thing/things/twin/commands/modify","headers":{"correlation-id":"C","content-type":"application/json"},"path":"/","value":{}}`
	msg := contract.NewExternalMessage([]byte(body), contract.Headers{"correlation-id": "C", "content-type": "application/json"})
	msg.ContentType = mapping.TwinProtocolContentType

	source := contract.Source{
		AuthorizationContext: []string{
			"integration:{{header:correlation-id}}:hub-{{header:content-type}}",
			"integration:{{header:content-type}}:hub-{{header:correlation-id}}",
		},
	}

	result, err := p.ProcessInbound(context.Background(), source, msg)
	require.NoError(t, err)
	require.Len(t, result.Signals, 1)

	ctx := result.Signals[0].AuthorizationContext
	require.Equal(t, []string{
		"integration:C:hub-application/json",
		"integration:application/json:hub-C",
	}, ctx)
}

// TestEnforcementRejectionProducesErrorResponse reproduces spec.md §8
// scenario 3.
func TestEnforcementRejectionProducesErrorResponse(t *testing.T) {
	p, _ := newProcessor(t, contract.MQTT)

	body := `{"topic":"my.ns/thing/things/twin/commands/modify","headers":{"correlation-id":"C"},"path":"/","value":{}}`
	msg := contract.NewExternalMessage([]byte(body), contract.Headers{"correlation-id": "C"})
	msg.ContentType = mapping.TwinProtocolContentType
	msg.SourceAddress = "some/invalid/target"

	// The consumer worker resolves the enforcement input early, against
	// "source:address", before the signal's thing identity is known;
	// here that resolution already happened and produced this literal.
	msg.EnforcementFilter = &contract.Enforcement{
		Input:   "some/invalid/target",
		Filters: []string{"mqtt/topic/{{ thing:namespace }}/{{ thing:name }}"},
	}

	result, err := p.ProcessInbound(context.Background(), contract.Source{}, msg)
	require.NoError(t, err)
	require.Empty(t, result.Signals)
	require.Len(t, result.ErrorResponses, 1)

	errResp := result.ErrorResponses[0]
	require.Equal(t, contract.SignalErrorResponse, errResp.Kind)

	cid, _ := errResp.CorrelationID()
	require.Equal(t, "C", cid)
	require.Contains(t, mapping.TopicString(errResp.Topic), "/errors")
}

func TestProcessInboundAtLimitSucceeds(t *testing.T) {
	registry, err := mapping.NewRegistry(nil, mapper.Builtins(), mapper.NewTwinProtocol())
	require.NoError(t, err)

	limited := mapping.NewProcessor(registry, mapping.Limits{MaxMappedInboundMessages: 1}, contract.MQTT, slog.Default())

	msg := envelope("my.ns/my-thing/things/twin/commands/modify", "C")

	_, err = limited.ProcessInbound(context.Background(), contract.Source{}, msg)
	require.NoError(t, err) // single mapper yields exactly 1 signal here, at the limit
}

func TestShouldSuppressDropsResponseRequiredFalse(t *testing.T) {
	status := 204
	signal := contract.Signal{
		Kind:    contract.SignalCommandResponse,
		Headers: contract.Headers{"response-required": "false"},
		Status:  &status,
	}

	require.True(t, mapping.ShouldSuppress(signal))

	signal.Headers["response-required"] = "true"
	require.False(t, mapping.ShouldSuppress(signal))
}

// TestOutboundTargetAddressResolutionIsIndependent reproduces spec.md
// §8 scenario 1 end to end through the processor.
func TestOutboundTargetAddressResolutionIsIndependent(t *testing.T) {
	p, _ := newProcessor(t, contract.Kafka)

	signal := contract.Signal{
		Kind:    contract.SignalEvent,
		ThingID: contract.ThingID{Namespace: "my.ns", Name: "thing"},
		Topic: contract.Topic{
			Namespace: "my.ns", Name: "thing", Group: "things",
			Channel: "twin", Criterion: "events", Action: "some-subject",
		},
		Headers: contract.Headers{},
		Payload: []byte(`{}`),
	}

	targets := []contract.Target{
		{Address: "some/topic/{{ topic:action-subject }}"},
		{Address: "some/topic/{{ eclipse:ditto }}"},
		{Address: "fixedAddress"},
	}

	results, err := p.ProcessOutbound(context.Background(), signal, targets)
	require.NoError(t, err)

	// All three targets resolve: the unrecognized-namespace placeholder
	// is kept literal in its target's address rather than dropped.
	require.Len(t, results, 3)

	addresses := []string{results[0].Target.Address, results[1].Target.Address, results[2].Target.Address}
	require.ElementsMatch(t, []string{
		"some/topic/some-subject",
		"some/topic/{{ eclipse:ditto }}",
		"fixedAddress",
	}, addresses)
}
