package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "alerts", map[string]string{"title": "Recall"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "alerts-test", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "alerts", msgs[0].Topic)
	require.Equal(t, "alerts-test", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "alerts", pub.Messages()[0].Topic)
}

var errTest = errors.New("publish refused")

func TestPublisherFailure(t *testing.T) {
	pub := New()
	pub.FailWith(errTest)
	_, err := pub.Publish(context.Background(), "alerts", "x")
	require.ErrorIs(t, err, errTest)
	require.Empty(t, pub.Messages())
}
