package syncutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLockContext_SerializesSameKey(t *testing.T) {
	m := NewContextShardedMutex()
	ctx := context.Background()

	var counter int
	var wg sync.WaitGroup
	const n = 100

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.LockContext(ctx, "usr_alice")
			if err != nil {
				t.Errorf("LockContext: %v", err)
				return
			}
			defer unlock()
			counter++ // A race here means mutual exclusion is broken.
		}()
	}
	wg.Wait()

	if counter != n {
		t.Fatalf("counter = %d, want %d", counter, n)
	}
}

func TestLockContext_GivesUpOnDeadline(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "usr_bob")
	if err != nil {
		t.Fatalf("LockContext: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := m.LockContext(ctx, "usr_bob"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("LockContext on a held shard returned %v, want DeadlineExceeded", err)
	}
}

func TestLockContext_UnlockHandsOff(t *testing.T) {
	m := NewContextShardedMutex()
	ctx := context.Background()

	unlock, err := m.LockContext(ctx, "usr_carol")
	if err != nil {
		t.Fatalf("LockContext: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := m.LockContext(ctx, "usr_carol")
		if err != nil {
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired the shard while it was still held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the shard after release")
	}
}

func TestLockContext_IndependentKeys(t *testing.T) {
	m := NewContextShardedMutex()
	ctx := context.Background()

	unlock1, err := m.LockContext(ctx, "usr_sender")
	if err != nil {
		t.Fatalf("LockContext: %v", err)
	}
	defer unlock1()

	timeoutCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlock2, err := m.LockContext(timeoutCtx, "usr_recipient")
	if err != nil {
		// FNV can map both keys onto one of the 256 shards.
		t.Skip("keys collided on a shard")
	}
	unlock2()
}
