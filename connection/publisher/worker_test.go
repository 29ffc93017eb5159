package publisher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twinmesh/connectivity/contract"
)

type fakeHandle struct{}

func (fakeHandle) Send(context.Context, contract.ExternalMessage) error { return nil }
func (fakeHandle) Close() error                                        { return nil }

type countingFactory struct {
	creates atomic.Int32
}

func (f *countingFactory) Dial(context.Context) error { return nil }

func (f *countingFactory) NewConsumer(context.Context, contract.Source) (<-chan contract.InboundEnvelope, error) {
	return nil, nil
}

func (f *countingFactory) NewPublishHandle(context.Context, string, int) (contract.OutboundHandle, error) {
	f.creates.Add(1)

	return fakeHandle{}, nil
}

func (f *countingFactory) Close() error { return nil }

// TestBackoffRecoveryEachTime reproduces spec.md §8 scenario 6's first
// case: a closure right after each recovery (t=0, 1s, 3s), each
// recovery waiting out the prior backoff, produces 4 createProducer
// calls (t=0, ~1s, ~3s, ~7s).
func TestBackoffRecoveryEachTime(t *testing.T) {
	factory := &countingFactory{}
	w := NewWorker(factory, nil)

	clock := time.Now()
	w.now = func() time.Time { return clock }

	target := contract.PublishTarget{Address: "addr"}

	require.NoError(t, w.Publish(context.Background(), Request{Target: target}))
	require.EqualValues(t, 1, factory.creates.Load())

	// t=0: first closure, schedules 1s backoff.
	w.OnClosed(target.Address)

	// t=1s: backoff elapsed, publish recreates (call 2).
	clock = clock.Add(1 * time.Second)
	require.NoError(t, w.Publish(context.Background(), Request{Target: target}))
	require.EqualValues(t, 2, factory.creates.Load())
	w.OnClosed(target.Address) // schedules 2s backoff

	// t=3s: backoff elapsed, publish recreates (call 3).
	clock = clock.Add(2 * time.Second)
	require.NoError(t, w.Publish(context.Background(), Request{Target: target}))
	require.EqualValues(t, 3, factory.creates.Load())
	w.OnClosed(target.Address) // schedules 4s backoff

	// t=7s: backoff elapsed, publish recreates (call 4).
	clock = clock.Add(4 * time.Second)
	require.NoError(t, w.Publish(context.Background(), Request{Target: target}))
	require.EqualValues(t, 4, factory.creates.Load())
}

// TestBackoffDropsRapidClosures reproduces spec.md §8 scenario 6's
// second case: three closures fired in rapid succession only ever
// trigger the first backoff; the later two are dropped, so only 2
// createProducer calls happen within the window.
func TestBackoffDropsRapidClosures(t *testing.T) {
	factory := &countingFactory{}
	w := NewWorker(factory, nil)

	clock := time.Now()
	w.now = func() time.Time { return clock }

	target := contract.PublishTarget{Address: "addr"}

	require.NoError(t, w.Publish(context.Background(), Request{Target: target}))
	require.EqualValues(t, 1, factory.creates.Load())

	w.OnClosed(target.Address)
	w.OnClosed(target.Address)
	w.OnClosed(target.Address)

	clock = clock.Add(10 * time.Second)
	require.NoError(t, w.Publish(context.Background(), Request{Target: target}))
	require.EqualValues(t, 2, factory.creates.Load())
}

// TestProbeSkipsPlaceholderAddresses reproduces spec.md §5's
// publisher-readiness probe: it eagerly creates a handle for every
// literal target address, but leaves a templated one alone since it
// only resolves per-signal later.
func TestProbeSkipsPlaceholderAddresses(t *testing.T) {
	factory := &countingFactory{}
	w := NewWorker(factory, nil)

	targets := []contract.Target{
		{Address: "fixed-a"},
		{Address: "some/topic/{{ thing:name }}"},
		{Address: "fixed-b"},
	}

	require.NoError(t, w.Probe(context.Background(), targets))
	require.EqualValues(t, 2, factory.creates.Load())
}

type unreachableFactory struct{}

func (unreachableFactory) Dial(context.Context) error { return nil }

func (unreachableFactory) NewConsumer(context.Context, contract.Source) (<-chan contract.InboundEnvelope, error) {
	return nil, nil
}

func (unreachableFactory) NewPublishHandle(context.Context, string, int) (contract.OutboundHandle, error) {
	return nil, context.DeadlineExceeded
}

func (unreachableFactory) Close() error { return nil }

// TestProbeFailsOnUnreachableTarget reproduces the probe's role as a
// readiness gate: a target the factory cannot establish a handle for
// fails the probe rather than being silently skipped.
func TestProbeFailsOnUnreachableTarget(t *testing.T) {
	w := NewWorker(unreachableFactory{}, nil)

	err := w.Probe(context.Background(), []contract.Target{{Address: "unreachable"}})
	require.Error(t, err)
}
