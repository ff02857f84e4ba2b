package txn

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arkedb/lsmengine/pkg/key"
)

func TestLockExcludesConcurrentHolder(t *testing.T) {
	lm := NewLockMap(4)
	uk := key.UserKey("a")

	lm.Lock(uk)

	acquired := make(chan struct{})
	go func() {
		lm.Lock(uk)
		close(acquired)
		lm.Unlock(uk)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock should block while the first holder is still locked")
	case <-time.After(20 * time.Millisecond):
	}

	lm.Unlock(uk)
	<-acquired
}

func TestUnlockEvictsEmptyEntry(t *testing.T) {
	lm := NewLockMap(4)
	uk := key.UserKey("a")

	lm.Lock(uk)
	lm.Unlock(uk)

	s := lm.stripeFor(uk)
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Empty(t, s.locks, "an unlocked key with no other holders should be evicted, not retained forever")
}

func TestLockAllOrdersAcrossTransactionsPreventsDeadlock(t *testing.T) {
	lm := NewLockMap(4)
	a := key.UserKey("a")
	b := key.UserKey("b")

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			// Both goroutines request [b, a] and [a, b] respectively —
			// LockAll must still serialize on the same global (sorted)
			// order internally, or this deadlocks.
			keys := []key.UserKey{b, a}
			if i == 1 {
				keys = []key.UserKey{a, b}
			}
			lm.LockAll(keys)
			lm.UnlockAll(keys)
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("LockAll did not converge — likely a lock-ordering deadlock")
	}
}
