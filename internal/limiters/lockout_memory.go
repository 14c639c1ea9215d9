package limiters

import (
	"context"
	"hash/fnv"
	"sync"
)

const memoryLockoutShards = 64

type lockoutEntry struct {
	mu    sync.Mutex
	state LockoutState
}

type lockoutShard struct {
	mu      sync.Mutex
	entries map[string]*lockoutEntry
}

// MemoryLockoutStore keeps lockout state for the lifetime of the process.
//
// Entries are created lazily and never removed. The shard lock only guards
// entry lookup; each identity's read-modify-write runs under its own entry
// lock, so identities never wait on one another's transitions.
type MemoryLockoutStore struct {
	shards [memoryLockoutShards]lockoutShard
}

// NewMemoryLockoutStore returns an empty in-process store.
func NewMemoryLockoutStore() *MemoryLockoutStore {
	s := &MemoryLockoutStore{}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*lockoutEntry)
	}
	return s
}

func (s *MemoryLockoutStore) shard(identity string) *lockoutShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return &s.shards[h.Sum32()%memoryLockoutShards]
}

func (s *MemoryLockoutStore) entry(identity string, create bool) *lockoutEntry {
	sh := s.shard(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[identity]
	if !ok && create {
		e = &lockoutEntry{}
		sh.entries[identity] = e
	}
	return e
}

// Load returns the state for identity, or the zero state if none exists.
func (s *MemoryLockoutStore) Load(_ context.Context, identity string) (LockoutState, error) {
	e := s.entry(identity, false)
	if e == nil {
		return LockoutState{}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// Update applies fn under the identity's entry lock.
func (s *MemoryLockoutStore) Update(_ context.Context, identity string, fn func(LockoutState) LockoutState) (LockoutState, error) {
	e := s.entry(identity, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = fn(e.state)
	return e.state, nil
}

// Reset returns identity to the zero state.
func (s *MemoryLockoutStore) Reset(_ context.Context, identity string) error {
	e := s.entry(identity, false)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	e.state = LockoutState{}
	e.mu.Unlock()
	return nil
}

// Len returns the number of identities with a stored entry.
func (s *MemoryLockoutStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
