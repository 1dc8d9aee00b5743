package lobby

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// Write and Close race in production: the read pump writes while the
// coordinator kicks, bans, or supersedes the same connection. Run with
// -race to make this meaningful.
func TestConnWriteDuringCloseDoesNotPanic(t *testing.T) {
	for i := 0; i < 50; i++ {
		conn := NewConn(uuid.New(), "racer", false, func() {})

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				conn.Write(map[string]interface{}{"type": FrameChatMessage, "seq": j})
			}
		}()

		conn.Close()
		wg.Wait()

		assert.False(t, conn.Write(map[string]interface{}{"type": FrameChatMessage}))
	}
}

func TestConnCloseIsIdempotent(t *testing.T) {
	cancels := 0
	conn := NewConn(uuid.New(), "alice", false, func() { cancels++ })

	conn.Close()
	conn.Close()

	assert.Equal(t, 1, cancels)
}

func TestRegistrySupersedeClosesOldConnection(t *testing.T) {
	reg := newConnectionRegistry()
	userID := uuid.New()
	first := NewConn(userID, "alice", false, func() {})
	second := NewConn(userID, "alice", false, func() {})

	assert.Nil(t, reg.Register(first))
	old := reg.Register(second)

	assert.Same(t, first, old)
	assert.False(t, first.Write(map[string]interface{}{"type": "ping"}))
	current, ok := reg.Connection(userID)
	assert.True(t, ok)
	assert.Same(t, second, current)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryUnregisterIgnoresStaleConnection(t *testing.T) {
	reg := newConnectionRegistry()
	userID := uuid.New()
	first := NewConn(userID, "alice", false, func() {})
	second := NewConn(userID, "alice", false, func() {})

	reg.Register(first)
	reg.Register(second)

	// The superseded pump's deferred cleanup must not evict the newcomer.
	assert.False(t, reg.Unregister(first))
	assert.Equal(t, 1, reg.Len())

	assert.True(t, reg.Unregister(second))
	assert.False(t, reg.Unregister(second))
	assert.Equal(t, 0, reg.Len())
}
