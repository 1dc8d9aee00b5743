package ratelimit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAllowBurstThenDeny(t *testing.T) {
	l := New(3, 2*time.Second)
	key := Key(uuid.New(), uuid.New())
	base := time.Now()

	// 4 sends spaced 100ms apart: allow, allow, allow, deny.
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(key, base.Add(time.Duration(i)*100*time.Millisecond)), "send %d should be allowed", i)
	}
	assert.False(t, l.Allow(key, base.Add(300*time.Millisecond)), "4th send inside window should be denied")
}

func TestWindowExpiryReadmits(t *testing.T) {
	l := New(3, 2*time.Second)
	key := Key(uuid.New(), uuid.New())
	base := time.Now()

	for i := 0; i < 3; i++ {
		l.Allow(key, base.Add(time.Duration(i)*100*time.Millisecond))
	}
	assert.False(t, l.Allow(key, base.Add(400*time.Millisecond)))

	// Past the window from the first accepted send, capacity frees up again.
	assert.True(t, l.Allow(key, base.Add(2*time.Second+time.Millisecond)))
}

func TestDeniedSendDoesNotConsume(t *testing.T) {
	l := New(1, time.Second)
	key := "k"
	base := time.Now()

	assert.True(t, l.Allow(key, base))
	assert.False(t, l.Allow(key, base.Add(100*time.Millisecond)))
	assert.False(t, l.Allow(key, base.Add(200*time.Millisecond)))
	// The denied attempts recorded nothing, so the original send expiring is enough.
	assert.True(t, l.Allow(key, base.Add(1100*time.Millisecond)))
}

func TestKeysIndependent(t *testing.T) {
	l := New(1, time.Second)
	now := time.Now()

	assert.True(t, l.Allow("a", now))
	assert.True(t, l.Allow("b", now))
	assert.False(t, l.Allow("a", now))
}

func TestReset(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Now()

	assert.True(t, l.Allow("k", now))
	assert.False(t, l.Allow("k", now))
	l.Reset("k")
	assert.True(t, l.Allow("k", now))
}
