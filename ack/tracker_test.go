package ack

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackerResolveRemovesPending(t *testing.T) {
	tr := NewTracker(time.Second)
	tr.Add("m1")
	require.Equal(t, 1, tr.Pending())
	require.True(t, tr.Resolve("m1"))
	require.Equal(t, 0, tr.Pending())
	require.False(t, tr.Resolve("m1"), "already resolved")
}

func TestTrackerWaitForAcksResolvesWhenEmpty(t *testing.T) {
	tr := NewTracker(time.Second)
	tr.Add("m1")
	go func() {
		time.Sleep(5 * time.Millisecond)
		tr.Resolve("m1")
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tr.WaitForAcks(ctx))
}

func TestTrackerTimeoutInvokesCallback(t *testing.T) {
	tr := NewTracker(10 * time.Millisecond)
	timedOut := make(chan string, 1)
	tr.OnTimeout(func(id string) { timedOut <- id })
	tr.Add("m1")

	select {
	case id := <-timedOut:
		require.Equal(t, "m1", id)
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}
	require.Equal(t, 0, tr.Pending())
}

func TestTrackerWaitForAcksContextCancel(t *testing.T) {
	tr := NewTracker(time.Hour)
	tr.Add("m1")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tr.WaitForAcks(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
