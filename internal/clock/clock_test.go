package clock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
)

func TestReal_Now(t *testing.T) {
	clk := clock.Real{}
	before := time.Now()
	got := clk.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Real.Now() = %v, expected between %v and %v", got, before, after)
	}
}

func TestMock(t *testing.T) {
	fixed := time.Date(2025, 11, 14, 11, 0, 0, 0, time.UTC)
	var clk clock.Clock = &clock.Mock{T: fixed}

	if got := clk.Now(); !got.Equal(fixed) {
		t.Errorf("Now() = %v, want %v", got, fixed)
	}

	m := clk.(*clock.Mock)
	m.Advance(50 * time.Minute)
	if got, want := clk.Now(), fixed.Add(50*time.Minute); !got.Equal(want) {
		t.Errorf("after Advance Now() = %v, want %v", got, want)
	}

	m.Set(fixed)
	if got := clk.Now(); !got.Equal(fixed) {
		t.Errorf("after Set Now() = %v, want %v", got, fixed)
	}
}

func TestMock_Concurrent(t *testing.T) {
	clk := &clock.Mock{T: time.Date(2025, 11, 14, 11, 0, 0, 0, time.UTC)}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			clk.Advance(time.Minute)
		}()
		go func() {
			defer wg.Done()
			_ = clk.Now()
		}()
	}
	wg.Wait()

	if got, want := clk.Now(), time.Date(2025, 11, 14, 11, 8, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}
}
