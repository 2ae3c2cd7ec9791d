// Package syncutil holds the per-account locking used by the auth and
// transfer services to serialize writes against optimistic-concurrency
// stores.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ContextShardedMutex maps arbitrary string keys (user IDs) onto a fixed
// pool of channel-based mutexes. The channel implementation lets a waiter
// select on context cancellation instead of blocking unconditionally, so a
// request that times out while queued behind a slow transfer gives up
// cleanly. Distinct keys may share a shard; that only costs contention,
// never correctness.
type ContextShardedMutex struct {
	shards [shardCount]chanMutex
	once   sync.Once
}

// chanMutex holds a one-slot channel. A token in the channel means unlocked.
type chanMutex struct {
	ch chan struct{}
}

func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{}
		}
	})
}

// LockContext acquires the shard for key. On success it returns the unlock
// function, which the caller must invoke exactly once. If ctx is cancelled
// while waiting, the lock is not held and the context error is returned.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := &m.shards[m.shardIdx(key)]

	select {
	case <-shard.ch:
		return func() { shard.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *ContextShardedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
