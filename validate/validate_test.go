package validate_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/mapping"
	"github.com/twinmesh/connectivity/mapping/mapper"
	"github.com/twinmesh/connectivity/validate"
)

func newMappers(t *testing.T) *mapping.Registry {
	t.Helper()

	registry, err := mapping.NewRegistry(nil, mapper.Builtins(), mapper.NewTwinProtocol())
	require.NoError(t, err)

	return registry
}

func TestMQTTValidatorRequiresQoS(t *testing.T) {
	registry := validate.NewRegistry()
	conn := contract.Connection{
		ID:   "c1",
		Type: contract.MQTT,
		URI:  "tcp://localhost:1883",
		Sources: []contract.Source{
			{Addresses: []string{"my/topic/+"}},
		},
	}

	err := registry.Validate(conn, newMappers(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "qos is mandatory")
}

func TestMQTTValidatorRejectsWildcardTargetAddress(t *testing.T) {
	registry := validate.NewRegistry()
	qos := 1
	conn := contract.Connection{
		ID:   "c1",
		Type: contract.MQTT,
		URI:  "tcp://localhost:1883",
		Targets: []contract.Target{
			{Address: "my/topic/#", QoS: &qos},
		},
	}

	err := registry.Validate(conn, newMappers(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "wildcards are not allowed")
}

func TestMQTTValidatorAcceptsWellFormedConnection(t *testing.T) {
	registry := validate.NewRegistry()
	qos := 1
	conn := contract.Connection{
		ID:   "c1",
		Type: contract.MQTT,
		URI:  "tcp://localhost:1883",
		Sources: []contract.Source{
			{Addresses: []string{"my/topic/+"}, QoS: &qos},
		},
		Targets: []contract.Target{
			{Address: "my/topic/out", QoS: &qos},
		},
	}

	require.NoError(t, registry.Validate(conn, newMappers(t)))
}

func TestAMQPValidatorRejectsBadScheme(t *testing.T) {
	registry := validate.NewRegistry()
	conn := contract.Connection{
		ID:   "c1",
		Type: contract.AMQP091,
		URI:  "http://localhost:5672",
		Sources: []contract.Source{
			{Addresses: []string{"my.queue"}},
		},
	}

	err := registry.Validate(conn, newMappers(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "uri scheme")
}

func TestUnknownMappingAliasIsRejected(t *testing.T) {
	registry := validate.NewRegistry()
	conn := contract.Connection{
		ID:   "c1",
		Type: contract.Kafka,
		URI:  "kafka-broker:9092",
		Sources: []contract.Source{
			{Addresses: []string{"my-topic"}, PayloadMapping: []string{"not-an-alias"}},
		},
	}

	err := registry.Validate(conn, newMappers(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown payload mapping alias")
}

func TestHTTPPushValidatorRejectsSources(t *testing.T) {
	registry := validate.NewRegistry()
	conn := contract.Connection{
		ID:   "c1",
		Type: contract.HTTPPush,
		URI:  "https://example.com/push",
		Sources: []contract.Source{
			{Addresses: []string{"whatever"}},
		},
		Targets: []contract.Target{
			{Address: "/events"},
		},
	}

	err := registry.Validate(conn, newMappers(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot declare sources")
}
