package settlement_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jensholdgaard/discord-fa-bot/internal/settlement"
)

func TestGuard(t *testing.T) {
	g := settlement.NewGuard(time.Minute)

	if err := g.Acquire("lock:w1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := g.Acquire("lock:w1"); !errors.Is(err, settlement.ErrInProgress) {
		t.Errorf("second Acquire() error = %v, want ErrInProgress", err)
	}
	if err := g.Acquire("lock:w2"); err != nil {
		t.Errorf("Acquire() of another key error = %v", err)
	}

	g.Release("lock:w1", true)
	if err := g.Acquire("lock:w1"); !errors.Is(err, settlement.ErrRecentlyRun) {
		t.Errorf("Acquire() after completion error = %v, want ErrRecentlyRun", err)
	}

	g.Release("lock:w2", false)
	if err := g.Acquire("lock:w2"); err != nil {
		t.Errorf("Acquire() after failed run error = %v", err)
	}
}

func TestGuard_TTLExpires(t *testing.T) {
	g := settlement.NewGuard(20 * time.Millisecond)

	if err := g.Acquire("k"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	g.Release("k", true)

	deadline := time.Now().Add(2 * time.Second)
	for {
		err := g.Acquire("k")
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Acquire() still rejected after TTL: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGuard_ZeroTTL(t *testing.T) {
	g := settlement.NewGuard(0)

	if err := g.Acquire("k"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	g.Release("k", true)
	if err := g.Acquire("k"); err != nil {
		t.Errorf("Acquire() error = %v, want nil without a TTL", err)
	}
}

func TestGuard_Concurrent(t *testing.T) {
	g := settlement.NewGuard(time.Minute)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire("msg-1"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}
