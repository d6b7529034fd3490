package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTouchCreatesAndRefreshes(t *testing.T) {
	r := NewRegistry(time.Hour, time.Hour)
	defer r.Close()

	s := r.Touch("abc")
	require.NotNil(t, s)
	first := s.LastAccess

	time.Sleep(5 * time.Millisecond)
	again := r.Touch("abc")
	assert.Same(t, s, again)
	assert.True(t, again.LastAccess.After(first))
	assert.Equal(t, 1, r.Len())
}

func TestEvictDropsIdleSessions(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, time.Hour)
	defer r.Close()

	r.Touch("idle")
	r.Touch("active")

	time.Sleep(30 * time.Millisecond)
	r.Touch("active") // refreshed inside TTL

	time.Sleep(30 * time.Millisecond)
	dropped := r.evict(time.Now())
	assert.Equal(t, 1, dropped)
	assert.Nil(t, r.Get("idle"))
	assert.NotNil(t, r.Get("active"))
}

func TestGetDoesNotRefresh(t *testing.T) {
	r := NewRegistry(time.Hour, time.Hour)
	defer r.Close()

	s := r.Touch("x")
	last := s.LastAccess
	time.Sleep(2 * time.Millisecond)
	_ = r.Get("x")
	assert.Equal(t, last, r.Get("x").LastAccess)
}
