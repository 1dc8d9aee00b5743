package lobby

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastDropsSlowConnectionAndContinues(t *testing.T) {
	reg := newConnectionRegistry()
	bcast := newBroadcaster(uuid.New(), reg, testLogger())

	slow := NewConn(uuid.New(), "slow", false, func() {})
	healthy := NewConn(uuid.New(), "healthy", false, func() {})
	reg.Register(slow)
	reg.Register(healthy)

	// Nobody drains slow's channel, so it fills to capacity.
	for i := 0; i < OutChanSize; i++ {
		require.True(t, slow.Write(map[string]interface{}{"type": FrameMessageNew, "seq": i}))
	}

	bcast.Broadcast(map[string]interface{}{"type": FrameTypingStart}, uuid.Nil)

	// The slow connection is gone; the healthy one still got the frame.
	_, ok := reg.Connection(slow.UserID)
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())
	assert.Len(t, framesOfType(drain(healthy), FrameTypingStart), 1)

	// A second broadcast no longer visits the dropped connection.
	bcast.Broadcast(map[string]interface{}{"type": FrameTypingStop}, uuid.Nil)
	assert.Len(t, framesOfType(drain(healthy), FrameTypingStop), 1)
}

func TestSlowConsumerDroppedDuringSessionBroadcast(t *testing.T) {
	ts := newTestSession(t, 8)
	ownerConn := ts.connect(t, ts.ownerID, "owner")
	slowID := uuid.New()
	slowConn := ts.connect(t, slowID, "slow")
	drain(ownerConn)
	drain(slowConn)

	for i := 0; i < OutChanSize; i++ {
		require.True(t, slowConn.Write(map[string]interface{}{"type": FrameMessageNew, "seq": i}))
	}

	require.NoError(t, ts.coord.HandleTyping(ownerConn, true))

	assert.Equal(t, 1, ts.coord.ConnectedCount())
	assert.False(t, slowConn.Write(map[string]interface{}{"type": "ping"}))
	// Membership survives the drop; only the live connection goes.
	_, isMember := ts.coord.RoleOf(slowID)
	assert.True(t, isMember)
}
