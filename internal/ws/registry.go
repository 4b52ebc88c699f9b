package ws

import (
	"encoding/binary"
	"hash/fnv"
	"sync"

	"duo-chat/backend/internal/service"
)

const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	conns map[uint]service.Conn
}

// Registry maps each user to their single live session. The map is split
// into lock-striped shards so users hashing to different shards never
// contend.
type Registry struct {
	shards [shardCount]*shard
}

var _ service.ConnLookup = (*Registry)(nil)

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{conns: make(map[uint]service.Conn)}
	}
	return r
}

func (r *Registry) shardFor(userID uint) *shard {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(userID))
	h := fnv.New32a()
	h.Write(b[:])
	return r.shards[h.Sum32()%shardCount]
}

// Register installs conn as the session of userID and returns the session it
// replaced, if any. The caller owns closing the previous session.
func (r *Registry) Register(userID uint, conn service.Conn) service.Conn {
	s := r.shardFor(userID)
	s.mu.Lock()
	prev := s.conns[userID]
	s.conns[userID] = conn
	s.mu.Unlock()
	return prev
}

// Lookup returns the live session of userID
func (r *Registry) Lookup(userID uint) (service.Conn, bool) {
	s := r.shardFor(userID)
	s.mu.RLock()
	conn, ok := s.conns[userID]
	s.mu.RUnlock()
	return conn, ok
}

// Remove drops the mapping of userID only if it still points at sessionID.
// A late disconnect of a replaced session leaves the newer one in place.
func (r *Registry) Remove(userID uint, sessionID string) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.conns[userID]
	if !ok || conn.SessionID() != sessionID {
		return false
	}
	delete(s.conns, userID)
	return true
}

// Count returns the number of online users
func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for every session until fn returns false. fn runs without
// any shard lock held.
func (r *Registry) Range(fn func(userID uint, conn service.Conn) bool) {
	for _, s := range r.shards {
		s.mu.RLock()
		entries := make(map[uint]service.Conn, len(s.conns))
		for id, c := range s.conns {
			entries[id] = c
		}
		s.mu.RUnlock()

		for id, c := range entries {
			if !fn(id, c) {
				return
			}
		}
	}
}
