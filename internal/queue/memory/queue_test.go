package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type job struct{ SourceID string }

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue[job](1)
	result := make(chan job, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), job{SourceID: "fda"}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "fda", got.SourceID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue[job](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := qDequeue.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	qEnqueue := NewQueue[job](1)
	require.NoError(t, qEnqueue.Enqueue(context.Background(), job{SourceID: "primed"}))
	require.EqualError(t, qEnqueue.Enqueue(ctx, job{}), "enqueue canceled: context canceled")
}

func TestQueueCloseDrainsFirst(t *testing.T) {
	t.Parallel()

	q := NewQueue[job](2)
	require.NoError(t, q.Enqueue(context.Background(), job{SourceID: "a"}))
	require.Equal(t, 1, q.Len())
	q.Close()

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", got.SourceID)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	q.Close()
}
