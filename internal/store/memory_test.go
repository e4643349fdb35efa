package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/quotaflow/quotaflow/internal/clock"
)

var (
	epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx   = context.Background()
)

func newTestStore() (*MemoryStore, *clock.VirtualClock) {
	vc := clock.NewVirtualClock(epoch)
	return NewMemoryStore(vc), vc
}

func TestMemoryStore_IncrementCreatesFreshEntry(t *testing.T) {
	s, _ := newTestStore()

	e, err := s.Increment(ctx, "k1", time.Minute)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if e.Count != 1 {
		t.Errorf("Count = %d, want 1", e.Count)
	}
	if want := epoch.Add(time.Minute); !e.ResetTime.Equal(want) {
		t.Errorf("ResetTime = %v, want %v", e.ResetTime, want)
	}
}

func TestMemoryStore_IncrementCountsUp(t *testing.T) {
	s, _ := newTestStore()

	for i := int64(1); i <= 4; i++ {
		e, err := s.Increment(ctx, "k1", time.Minute)
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if e.Count != i {
			t.Errorf("Count = %d, want %d", e.Count, i)
		}
	}
}

func TestMemoryStore_IncrementAfterExpiryStartsNewWindow(t *testing.T) {
	s, vc := newTestStore()

	s.Increment(ctx, "k1", time.Minute)
	s.Increment(ctx, "k1", time.Minute)

	vc.Advance(time.Minute)

	e, err := s.Increment(ctx, "k1", time.Minute)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if e.Count != 1 {
		t.Errorf("Count after window expiry = %d, want 1", e.Count)
	}
	if want := epoch.Add(2 * time.Minute); !e.ResetTime.Equal(want) {
		t.Errorf("ResetTime = %v, want %v", e.ResetTime, want)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s, _ := newTestStore()

	e, err := s.Get(ctx, "nope")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e != nil {
		t.Errorf("Get(missing) = %+v, want nil", e)
	}
}

func TestMemoryStore_GetEvictsExpired(t *testing.T) {
	s, vc := newTestStore()

	s.Increment(ctx, "k1", time.Minute)
	vc.Advance(61 * time.Second)

	e, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e != nil {
		t.Errorf("Get(expired) = %+v, want nil", e)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after lazy eviction", s.Len())
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s, _ := newTestStore()

	s.Increment(ctx, "k1", time.Minute)

	e, _ := s.Get(ctx, "k1")
	e.Count = 99

	again, _ := s.Get(ctx, "k1")
	if again.Count != 1 {
		t.Errorf("stored Count = %d, want 1 (caller mutation leaked in)", again.Count)
	}
}

func TestMemoryStore_SetAndGet(t *testing.T) {
	s, _ := newTestStore()

	in := &Entry{Count: 7, ResetTime: epoch.Add(30 * time.Second)}
	if err := s.Set(ctx, "k1", in, 30*time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.Count != 7 {
		t.Fatalf("Get() = %+v, want Count 7", got)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	s, _ := newTestStore()

	s.Increment(ctx, "k1", time.Minute)
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	e, _ := s.Get(ctx, "k1")
	if e != nil {
		t.Errorf("Get after Delete = %+v, want nil", e)
	}

	// Deleting an absent key is fine.
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Errorf("Delete(absent) error = %v", err)
	}
}

func TestMemoryStore_SweepRemovesExpiredEntry(t *testing.T) {
	s, vc := newTestStore()

	s.Increment(ctx, "k1", time.Minute)
	vc.Advance(time.Minute)

	// The sweep goroutine fires off the clock's After channel; give it a
	// moment to run.
	waitFor(t, func() bool { return s.Len() == 0 })
}

func TestMemoryStore_SweepSparesNewerWindow(t *testing.T) {
	s, vc := newTestStore()

	s.Increment(ctx, "k1", time.Minute)
	vc.Advance(time.Minute)

	// Same key, new window: the earlier sweep must not remove it.
	s.Increment(ctx, "k1", time.Minute)
	time.Sleep(20 * time.Millisecond)

	e, _ := s.Get(ctx, "k1")
	if e == nil || e.Count != 1 {
		t.Fatalf("Get() = %+v, want fresh entry with Count 1", e)
	}
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	s, _ := newTestStore()

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			s.Increment(ctx, "shared", time.Minute)
		}()
	}
	wg.Wait()

	e, _ := s.Get(ctx, "shared")
	if e == nil || e.Count != goroutines {
		t.Fatalf("Count = %v, want %d", e, goroutines)
	}
}

func TestMemoryStore_KeysAreIndependent(t *testing.T) {
	s, _ := newTestStore()

	for i := 0; i < 5; i++ {
		s.Increment(ctx, "a", time.Minute)
	}
	e, _ := s.Increment(ctx, "b", time.Minute)
	if e.Count != 1 {
		t.Errorf("key b Count = %d, want 1", e.Count)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}
