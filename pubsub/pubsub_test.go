package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	enc := encodeEnvelope("node-1", []byte("payload-bytes"))
	id, payload, err := decodeEnvelope(enc)
	require.NoError(t, err)
	require.Equal(t, "node-1", id)
	require.Equal(t, []byte("payload-bytes"), payload)
}

func TestEnvelopeEmptySourceID(t *testing.T) {
	enc := encodeEnvelope("", []byte("x"))
	id, payload, err := decodeEnvelope(enc)
	require.NoError(t, err)
	require.Equal(t, "", id)
	require.Equal(t, []byte("x"), payload)
}

func TestBusDropsSelfPublishedMessages(t *testing.T) {
	bus := New(NewMemoryBackend())
	var mu sync.Mutex
	var received []string

	_, err := bus.Subscribe(context.Background(), "doc1", "node-A", func(payload []byte, sourceID string) {
		mu.Lock()
		received = append(received, sourceID)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "doc1", []byte("from-self"), "node-A"))
	require.NoError(t, bus.Publish(context.Background(), "doc1", []byte("from-other"), "node-B"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"node-B"}, received)
}

func TestBusFanOutToMultipleSubscribers(t *testing.T) {
	bus := New(NewMemoryBackend())
	var wg sync.WaitGroup
	wg.Add(2)

	for i := 0; i < 2; i++ {
		_, err := bus.Subscribe(context.Background(), "doc1", "node-listener", func(payload []byte, sourceID string) {
			wg.Done()
		})
		require.NoError(t, err)
	}

	require.NoError(t, bus.Publish(context.Background(), "doc1", []byte("x"), "node-other"))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all subscribers received the publish")
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(NewMemoryBackend())
	called := make(chan struct{}, 1)
	unsub, err := bus.Subscribe(context.Background(), "doc1", "node-A", func(payload []byte, sourceID string) {
		called <- struct{}{}
	})
	require.NoError(t, err)
	require.NoError(t, unsub())

	require.NoError(t, bus.Publish(context.Background(), "doc1", []byte("x"), "node-B"))
	select {
	case <-called:
		t.Fatal("handler invoked after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBackendClosedRejectsOperations(t *testing.T) {
	b := NewMemoryBackend()
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), "doc1", []byte("x"))
	require.ErrorIs(t, err, ErrClosed)

	_, err = b.Subscribe(context.Background(), "doc1", func([]byte) {})
	require.ErrorIs(t, err, ErrClosed)
}
