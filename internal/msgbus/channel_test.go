package msgbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lattice "github.com/ashgrove/latticerun"
)

var (
	threadA = ThreadID{Layer: 0, Position: 0}
	threadB = ThreadID{Layer: 0, Position: 1}
)

func TestChannelSendRejectsNonEndpoint(t *testing.T) {
	ch := NewChannel(threadA, threadB)
	err := ch.Send(&Message{Sender: ThreadID{Layer: 9, Position: 9}})
	require.Error(t, err)
	assert.ErrorIs(t, err, lattice.ErrInvalidSender)
}

// Scenario 1: ping-pong. Worker 0 sends 1000 NORMAL messages 0..999;
// worker 1 receives them in order with zero loss.
func TestScenarioPingPong(t *testing.T) {
	ch := NewChannel(threadA, threadB)
	pool := NewPool(16, true, nil)

	for i := 0; i < 1000; i++ {
		msg, err := pool.Alloc()
		require.NoError(t, err)
		msg.Sender = threadA
		msg.Priority = PriorityNormal
		msg.Payload = i
		require.NoError(t, ch.Send(msg))
	}

	for i := 0; i < 1000; i++ {
		msg, ok := ch.Receive(threadB)
		require.True(t, ok, "expected message %d", i)
		assert.Equal(t, i, msg.Payload)
		pool.Free(msg)
	}

	_, ok := ch.Receive(threadB)
	assert.False(t, ok, "no extra messages expected")
}

func TestChannelReceiveWithTimeoutReturnsTimeoutOnEmpty(t *testing.T) {
	ch := NewChannel(threadA, threadB)
	_, err := ch.ReceiveWithTimeout(context.Background(), threadB, 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, lattice.IsKind(err, lattice.KindTimeout))
}

func TestChannelReceiveWithTimeoutSucceedsWhenMessageArrives(t *testing.T) {
	ch := NewChannel(threadA, threadB)
	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = ch.Send(&Message{Sender: threadA, ID: 42})
	}()

	msg, err := ch.ReceiveWithTimeout(context.Background(), threadB, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), msg.ID)
}

func TestMessageIsExpired(t *testing.T) {
	future := &Message{Deadline: time.Now().Add(time.Hour).UnixNano()}
	assert.False(t, future.IsExpired())

	past := &Message{Deadline: time.Now().Add(-time.Hour).UnixNano()}
	assert.True(t, past.IsExpired())

	noDeadline := &Message{}
	assert.False(t, noDeadline.IsExpired())
}
