package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocal_MutualExclusion(t *testing.T) {
	m := NewLocal()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		counter int
		inside  int32
		mu      sync.Mutex
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Acquire(ctx, "escrow")
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			if inside != 1 {
				t.Errorf("%d holders inside critical section", inside)
			}
			mu.Unlock()

			counter++

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
	if len(m.locks) != 0 {
		t.Errorf("expected idle keys to be forgotten, %d remain", len(m.locks))
	}
}

func TestLocal_ContextCancel(t *testing.T) {
	m := NewLocal()

	unlock, err := m.Acquire(context.Background(), "escrow")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, "escrow")
	if !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline cause, got %v", err)
	}

	// Other keys are independent
	other, err := m.Acquire(context.Background(), "other")
	if err != nil {
		t.Fatalf("Acquire other failed: %v", err)
	}
	other()
}

func TestLocal_UnlockIdempotent(t *testing.T) {
	m := NewLocal()
	ctx := context.Background()

	unlock, err := m.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	unlock()
	unlock()

	again, err := m.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("re-Acquire failed: %v", err)
	}
	again()
}

func TestAcquireAll(t *testing.T) {
	m := NewLocal()
	ctx := context.Background()

	unlock, err := AcquireAll(ctx, m, "lobbyist", "escrow")
	if err != nil {
		t.Fatalf("AcquireAll failed: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := AcquireAll(short, m, "other", "escrow"); !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}

	// "other" was released when the second acquisition failed
	o, err := m.Acquire(ctx, "other")
	if err != nil {
		t.Fatalf("other should be free: %v", err)
	}
	o()

	unlock()
	if len(m.locks) != 0 {
		t.Errorf("expected all keys released, %d remain", len(m.locks))
	}
}
