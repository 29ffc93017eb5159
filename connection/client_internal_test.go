package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twinmesh/connectivity/contract"
)

// reconnectFactory is a white-box contract.Factory fake that can be
// told to fail publish-handle creation (simulating a dead broker the
// readiness probe should catch) and whose consumer streams can be
// closed out from under the client to simulate an unsolicited
// ConnectionFailure.
type reconnectFactory struct {
	mu        sync.Mutex
	dials     int
	failProbe bool
	streams   []chan contract.InboundEnvelope
}

func (f *reconnectFactory) Dial(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dials++

	return nil
}

func (f *reconnectFactory) NewConsumer(ctx context.Context, _ contract.Source) (<-chan contract.InboundEnvelope, error) {
	ch := make(chan contract.InboundEnvelope)

	f.mu.Lock()
	f.streams = append(f.streams, ch)
	f.mu.Unlock()

	return ch, nil
}

func (f *reconnectFactory) NewPublishHandle(context.Context, string, int) (contract.OutboundHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failProbe {
		return nil, errors.New("broker unreachable")
	}

	return reconnectHandle{}, nil
}

func (f *reconnectFactory) Close() error { return nil }

func (f *reconnectFactory) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.dials
}

// breakFirstStream closes the oldest still-open consumer stream,
// simulating the protocol factory ending it on its own.
func (f *reconnectFactory) breakFirstStream() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.streams) == 0 {
		return
	}

	close(f.streams[0])
	f.streams = f.streams[1:]
}

type reconnectHandle struct{}

func (reconnectHandle) Send(context.Context, contract.ExternalMessage) error { return nil }
func (reconnectHandle) Close() error                                        { return nil }

func testConnection(failover bool) contract.Connection {
	return contract.Connection{
		ID:              "c1",
		Type:            contract.Kafka,
		URI:             "kafka-broker:9092",
		FailoverEnabled: failover,
		Sources: []contract.Source{
			{Addresses: []string{"in-topic"}, ConsumerCount: 1},
		},
		Targets: []contract.Target{
			{Address: "out-topic"},
		},
	}
}

// TestClientReconnectsAfterStreamFailureWhenFailoverEnabled reproduces
// spec.md §4.8's "ConnectionFailure ... initiate reconnection
// (failover-dependent)": an unsolicited stream end while Connected, on
// a FailoverEnabled connection, re-dials rather than sitting on a dead
// generation forever.
func TestClientReconnectsAfterStreamFailureWhenFailoverEnabled(t *testing.T) {
	old := DefaultReconnectGracePeriod
	DefaultReconnectGracePeriod = time.Second
	defer func() { DefaultReconnectGracePeriod = old }()

	factory := &reconnectFactory{}

	client, err := NewClient(testConnection(true), func(contract.Connection) (contract.Factory, error) {
		return factory, nil
	}, nil)
	require.NoError(t, err)

	require.NoError(t, client.Open(context.Background()))
	defer client.Close(context.Background())

	require.Equal(t, 1, factory.dialCount())

	factory.breakFirstStream()

	require.Eventually(t, func() bool {
		return factory.dialCount() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, s := range client.RetrieveStatus() {
			if s.State != "open" {
				return false
			}
		}

		return true
	}, 5*time.Second, 10*time.Millisecond)
}

// TestClientMarksFailedWithoutFailover reproduces the same unsolicited
// stream end, but with FailoverEnabled false: the client must give up
// and report "failed" rather than silently reconnecting.
func TestClientMarksFailedWithoutFailover(t *testing.T) {
	factory := &reconnectFactory{}

	client, err := NewClient(testConnection(false), func(contract.Connection) (contract.Factory, error) {
		return factory, nil
	}, nil)
	require.NoError(t, err)

	require.NoError(t, client.Open(context.Background()))

	factory.breakFirstStream()

	require.Eventually(t, func() bool {
		for _, s := range client.RetrieveStatus() {
			if s.State != "failed" {
				return false
			}
		}

		return true
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, 1, factory.dialCount())
}

// TestClientOpenFailsWhenPublisherProbeFails reproduces spec.md §5's
// publisher-readiness probe gating consumer startup: a broker that
// rejects every publish handle must fail Open before any consumer ever
// starts, not silently leave dead consumers running.
func TestClientOpenFailsWhenPublisherProbeFails(t *testing.T) {
	old := DefaultReconnectGracePeriod
	DefaultReconnectGracePeriod = 50 * time.Millisecond
	defer func() { DefaultReconnectGracePeriod = old }()

	factory := &reconnectFactory{failProbe: true}

	client, err := NewClient(testConnection(false), func(contract.Connection) (contract.Factory, error) {
		return factory, nil
	}, nil)
	require.NoError(t, err)

	err = client.Open(context.Background())
	require.Error(t, err)

	for _, s := range client.RetrieveStatus() {
		require.Equal(t, "failed", s.State)
	}
}
