package connection_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twinmesh/connectivity/connection"
	"github.com/twinmesh/connectivity/contract"
)

// memoryFactory is a minimal in-memory contract.Factory: consumers are
// fed from an in-process channel and publishes are recorded, enough to
// exercise the client state machine end to end without any real
// network I/O.
type memoryFactory struct {
	mu        sync.Mutex
	published []contract.ExternalMessage
	inbound   chan contract.InboundEnvelope
}

func newMemoryFactory() *memoryFactory {
	return &memoryFactory{inbound: make(chan contract.InboundEnvelope, 8)}
}

func (f *memoryFactory) Dial(context.Context) error { return nil }

func (f *memoryFactory) NewConsumer(ctx context.Context, _ contract.Source) (<-chan contract.InboundEnvelope, error) {
	out := make(chan contract.InboundEnvelope)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-f.inbound:
				if !ok {
					return
				}

				out <- env
			}
		}
	}()

	return out, nil
}

type memoryHandle struct{ f *memoryFactory }

func (h memoryHandle) Send(_ context.Context, msg contract.ExternalMessage) error {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()

	h.f.published = append(h.f.published, msg)

	return nil
}

func (h memoryHandle) Close() error { return nil }

func (f *memoryFactory) NewPublishHandle(context.Context, string, int) (contract.OutboundHandle, error) {
	return memoryHandle{f: f}, nil
}

func (f *memoryFactory) Close() error { return nil }

func (f *memoryFactory) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.published)
}

func TestClientOpenRoutesMessageToTarget(t *testing.T) {
	factory := newMemoryFactory()

	conn := contract.Connection{
		ID:   "c1",
		Type: contract.Kafka,
		URI:  "kafka-broker:9092",
		Sources: []contract.Source{
			{Addresses: []string{"in-topic"}, ConsumerCount: 1},
		},
		Targets: []contract.Target{
			{Address: "out-topic"},
		},
	}

	client, err := connection.NewClient(conn, func(contract.Connection) (contract.Factory, error) {
		return factory, nil
	}, nil)
	require.NoError(t, err)

	require.NoError(t, client.Open(context.Background()))
	defer client.Close(context.Background())

	body := `{"topic":"my.ns/my-thing/things/twin/events/created","headers":{},"path":"/","value":{}}`
	factory.inbound <- contract.InboundEnvelope{
		Payload: []byte(body),
		Address: "in-topic",
		Ack:     func() {},
	}

	require.Eventually(t, func() bool {
		return factory.publishedCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClientRetrieveStatusReflectsState(t *testing.T) {
	factory := newMemoryFactory()

	conn := contract.Connection{
		ID:   "c1",
		Type: contract.Kafka,
		URI:  "kafka-broker:9092",
		Sources: []contract.Source{
			{Addresses: []string{"in-topic"}, ConsumerCount: 1},
		},
		Targets: []contract.Target{
			{Address: "out-topic"},
		},
	}

	client, err := connection.NewClient(conn, func(contract.Connection) (contract.Factory, error) {
		return factory, nil
	}, nil)
	require.NoError(t, err)

	closed := client.RetrieveStatus()
	require.Len(t, closed, 2)

	for _, s := range closed {
		require.Equal(t, "closed", s.State)
	}

	require.NoError(t, client.Open(context.Background()))

	open := client.RetrieveStatus()

	for _, s := range open {
		require.Equal(t, "open", s.State)
	}

	require.NoError(t, client.Close(context.Background()))
}

func TestClientTestModeDoesNotPublish(t *testing.T) {
	factory := newMemoryFactory()

	conn := contract.Connection{
		ID:   "c1",
		Type: contract.Kafka,
		URI:  "kafka-broker:9092",
		Sources: []contract.Source{
			{Addresses: []string{"in-topic"}, ConsumerCount: 1},
		},
		Targets: []contract.Target{
			{Address: "out-topic"},
		},
	}

	client, err := connection.NewClient(conn, func(contract.Connection) (contract.Factory, error) {
		return factory, nil
	}, nil)
	require.NoError(t, err)

	require.NoError(t, client.Test(context.Background()))
	require.Equal(t, 0, factory.publishedCount())
}
