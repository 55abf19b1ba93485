package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	msgs    []*nats.Msg
	failPub error
	drained bool
}

func (f *fakeConn) PublishMsg(msg *nats.Msg) error {
	if f.failPub != nil {
		return f.failPub
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeConn) FlushWithContext(context.Context) error { return nil }

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestPublishUsesBoundSubject(t *testing.T) {
	conn := &fakeConn{}
	pub := New(conn, "")

	id, err := pub.Publish(context.Background(), "", map[string]any{"title": "Recall", "urgency_score": 17})
	require.NoError(t, err)
	require.Len(t, conn.msgs, 1)

	msg := conn.msgs[0]
	require.Equal(t, "regalert.alerts", msg.Subject)
	require.Equal(t, id, msg.Header.Get(nats.MsgIdHdr))
	require.Equal(t, "application/json", msg.Header.Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, "Recall", got["title"])
}

func TestPublishTopicOverride(t *testing.T) {
	conn := &fakeConn{}
	_, err := New(conn, "regalert.alerts").Publish(context.Background(), "regalert.test", "x")
	require.NoError(t, err)
	require.Equal(t, "regalert.test", conn.msgs[0].Subject)
}

func TestPublishErrors(t *testing.T) {
	conn := &fakeConn{failPub: errors.New("no responders")}
	_, err := New(conn, "s").Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "no responders")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(&fakeConn{}, "s").Publish(ctx, "", "x")
	require.ErrorIs(t, err, context.Canceled)

	_, err = New(&fakeConn{}, "s").Publish(context.Background(), "", make(chan int))
	require.Error(t, err)
}

func TestClose(t *testing.T) {
	conn := &fakeConn{}
	require.NoError(t, New(conn, "s").Close())
	require.True(t, conn.drained)
}
