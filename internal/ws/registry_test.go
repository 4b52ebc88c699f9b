package ws

import (
	"fmt"
	"sync"
	"testing"

	"duo-chat/backend/internal/models"
	"duo-chat/backend/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	session string
	user    uint
	closed  bool
}

func (s *stubConn) SessionID() string                { return s.session }
func (s *stubConn) UserID() uint                     { return s.user }
func (s *stubConn) Deliver(*models.Message) bool     { return true }
func (s *stubConn) Ack(*models.Message, string) bool { return true }
func (s *stubConn) Close()                           { s.closed = true }

func TestRegistryReplaceAndGuardedRemove(t *testing.T) {
	r := NewRegistry()
	h1 := &stubConn{session: "s1", user: 7}
	h2 := &stubConn{session: "s2", user: 7}

	assert.Nil(t, r.Register(7, h1))
	prev := r.Register(7, h2)
	assert.Same(t, h1, prev)
	assert.False(t, h1.closed, "the registry never closes handles")

	got, ok := r.Lookup(7)
	require.True(t, ok)
	assert.Same(t, h2, got)

	// the stale session's disconnect must not evict the newer one
	assert.False(t, r.Remove(7, "s1"))
	got, ok = r.Lookup(7)
	require.True(t, ok)
	assert.Same(t, h2, got)

	assert.True(t, r.Remove(7, "s2"))
	_, ok = r.Lookup(7)
	assert.False(t, ok)

	assert.False(t, r.Remove(7, "s2"), "removing an absent user is a no-op")
}

func TestRegistryCountAndRange(t *testing.T) {
	r := NewRegistry()
	for _, id := range []uint{40, 3, 17, 1} {
		r.Register(id, &stubConn{session: fmt.Sprint("s", id), user: id})
	}

	assert.Equal(t, 4, r.Count())

	seen := map[uint]string{}
	r.Range(func(id uint, c service.Conn) bool {
		seen[id] = c.SessionID()
		return true
	})
	assert.Equal(t, map[uint]string{1: "s1", 3: "s3", 17: "s17", 40: "s40"}, seen)

	calls := 0
	r.Range(func(uint, service.Conn) bool {
		calls++
		return false
	})
	assert.Equal(t, 1, calls)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	const users = 200

	var wg sync.WaitGroup
	for i := 1; i <= users; i++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				r.Register(id, &stubConn{session: fmt.Sprintf("%d-%d", id, j), user: id})
				_, _ = r.Lookup(id)
				r.Remove(id, fmt.Sprintf("%d-%d", id, j-1))
			}
		}(uint(i))
	}
	wg.Wait()

	assert.Equal(t, users, r.Count())
	for i := 1; i <= users; i++ {
		c, ok := r.Lookup(uint(i))
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("%d-9", i), c.SessionID())
	}
}
