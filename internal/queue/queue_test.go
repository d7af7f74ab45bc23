package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTrip(t *testing.T) {
	msg, err := NewMarked(MarkedEvent{RecordID: "r1", StudentID: "s1", Date: "2026-10-19", Time: "07:45:00", Status: "present", Inserted: true})
	require.NoError(t, err)

	got := deserialize(serialize(msg))
	assert.Equal(t, TypeAttendanceMarked, got.Type)

	evt, err := DecodeMarked(got)
	require.NoError(t, err)
	assert.Equal(t, "s1", evt.StudentID)
	assert.Equal(t, "07:45:00", evt.Time)
	assert.True(t, evt.Inserted)
}

func TestDeserializeWithoutSeparator(t *testing.T) {
	got := deserialize("raw-body")
	assert.Empty(t, got.Type)
	assert.Equal(t, []byte("raw-body"), got.Body)
}

func TestInMemory_PublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, Message{Type: TypeAttendanceMarked, Body: []byte(`{}`)}))

	select {
	case msg := <-ch:
		assert.Equal(t, TypeAttendanceMarked, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should close after cancel")
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestRedisQueue_PublishConsume(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewRedisQueue(client, "")
	msg, err := NewMarked(MarkedEvent{StudentID: "s1", Date: "2026-10-19", Status: "late"})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))
	items, err := mr.List("qrattend:events")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case got := <-ch:
		evt, err := DecodeMarked(got)
		require.NoError(t, err)
		assert.Equal(t, "late", evt.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}
