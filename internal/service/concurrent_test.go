package service

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
)

// TestMarketLocksSerializePerMarket runs 50 goroutines through the same
// market's lock and checks the critical section never interleaves. This is
// the guard PlaceBet and PlaceOrder take around their trade transaction.
func TestMarketLocksSerializePerMarket(t *testing.T) {
	const workers = 50

	locks := NewMarketLocks()
	marketID := uuid.New()

	var inSection int32
	var maxSeen int32
	var entries int32

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mu := locks.get(marketID)
			mu.Lock()
			defer mu.Unlock()

			n := atomic.AddInt32(&inSection, 1)
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
			atomic.AddInt32(&entries, 1)
			atomic.AddInt32(&inSection, -1)
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("critical section admitted %d goroutines at once, want 1", maxSeen)
	}
	if entries != workers {
		t.Errorf("expected %d entries, got %d", workers, entries)
	}
}

// TestMarketLocksIndependentMarkets checks two markets get distinct mutexes:
// holding one market's lock must not block another market's trade.
func TestMarketLocksIndependentMarkets(t *testing.T) {
	locks := NewMarketLocks()
	a := locks.get(uuid.New())
	b := locks.get(uuid.New())

	a.Lock()
	defer a.Unlock()

	if !b.TryLock() {
		t.Fatal("second market's lock blocked by the first market's holder")
	}
	b.Unlock()
}

// TestMarketLocksSingleFlight verifies the TryLock pattern resolution uses:
// while one resolution holds the lock every other attempt is turned away,
// and after release exactly one new attempt wins.
func TestMarketLocksSingleFlight(t *testing.T) {
	const workers = 20

	locks := NewMarketLocks()
	marketID := uuid.New()

	mu := locks.get(marketID)
	mu.Lock()

	var rejected int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !locks.get(marketID).TryLock() {
				atomic.AddInt64(&rejected, 1)
				return
			}
			t.Error("TryLock succeeded while the lock was held")
			locks.get(marketID).Unlock()
		}()
	}
	wg.Wait()

	if rejected != workers {
		t.Errorf("expected %d rejected attempts, got %d", workers, rejected)
	}

	mu.Unlock()
	if !locks.get(marketID).TryLock() {
		t.Fatal("TryLock failed after the lock was released")
	}
	locks.get(marketID).Unlock()
}
