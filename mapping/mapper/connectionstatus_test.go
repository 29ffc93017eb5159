package mapper_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twinmesh/connectivity/contract"
	"github.com/twinmesh/connectivity/mapping/mapper"
)

func newConnectionStatus(t *testing.T) *mapper.ConnectionStatus {
	t.Helper()

	m := mapper.NewConnectionStatus()
	require.NoError(t, m.Configure(map[string]string{"thingId": "my:thing"}))

	return m
}

func TestConnectionStatusTTDZeroProducesModifyFeatureProperty(t *testing.T) {
	m := newConnectionStatus(t)

	message := contract.ExternalMessage{
		Headers: contract.Headers{"creation-time": "1000", "ttd": "0"},
	}

	signals, err := m.MapInbound(context.Background(), message)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	signal := signals[0]

	var readyUntil string
	require.NoError(t, json.Unmarshal(signal.Payload, &readyUntil))
	require.Equal(t, "1970-01-01T00:00:01Z", readyUntil)
	require.Equal(t, "false", signal.Headers["response-required"])
}

func TestConnectionStatusTTDNegativeOneProducesDistantFuture(t *testing.T) {
	m := newConnectionStatus(t)

	message := contract.ExternalMessage{
		Headers: contract.Headers{"creation-time": "1000", "ttd": "-1"},
	}

	signals, err := m.MapInbound(context.Background(), message)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	var feature map[string]any
	require.NoError(t, json.Unmarshal(signals[0].Payload, &feature))

	status := feature["properties"].(map[string]any)["status"].(map[string]any)
	require.Equal(t, "9999-12-31T23:59:59Z", status["readyUntil"])
}

func TestConnectionStatusTTDTenProducesReadySinceAndUntil(t *testing.T) {
	m := newConnectionStatus(t)

	message := contract.ExternalMessage{
		Headers: contract.Headers{"creation-time": "1000", "ttd": "10"},
	}

	signals, err := m.MapInbound(context.Background(), message)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	var feature map[string]any
	require.NoError(t, json.Unmarshal(signals[0].Payload, &feature))

	status := feature["properties"].(map[string]any)["status"].(map[string]any)
	require.Equal(t, "1970-01-01T00:00:01Z", status["readySince"])
	require.Equal(t, "1970-01-01T00:00:11Z", status["readyUntil"])
}

func TestConnectionStatusMalformedHeadersYieldsEmptyResult(t *testing.T) {
	m := newConnectionStatus(t)

	message := contract.ExternalMessage{
		Headers: contract.Headers{"creation-time": "not-a-number", "ttd": "0"},
	}

	signals, err := m.MapInbound(context.Background(), message)
	require.NoError(t, err)
	require.Empty(t, signals)
}
