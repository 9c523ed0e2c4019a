package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests advance the monotonic reference deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewLimiter()
	l.now = clock.Now
	return l, clock
}

func TestTouchBurstCapacity(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 100; i++ {
		if !l.Allow(CategoryTouch, "sess-1") {
			t.Fatalf("touch %d denied within capacity", i+1)
		}
	}
	if l.Allow(CategoryTouch, "sess-1") {
		t.Error("101st touch should be denied")
	}
}

func TestRefillOverTime(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < 10; i++ {
		if !l.Allow(CategoryText, "sess-1") {
			t.Fatalf("text %d denied within capacity", i+1)
		}
	}
	if l.Allow(CategoryText, "sess-1") {
		t.Fatal("text should be exhausted")
	}

	// 10 tok/s: half a second buys 5 sends.
	clock.Advance(500 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if !l.Allow(CategoryText, "sess-1") {
			t.Fatalf("refilled text %d denied", i+1)
		}
	}
	if l.Allow(CategoryText, "sess-1") {
		t.Error("refill should only cover 5 tokens")
	}
}

func TestRefillCapsAtCapacity(t *testing.T) {
	l, clock := newTestLimiter()

	if !l.Allow(CategoryMacro, "sess-1") {
		t.Fatal("first macro denied")
	}
	clock.Advance(time.Hour)
	if !l.Allow(CategoryMacro, "sess-1") {
		t.Fatal("macro denied after long idle")
	}
	if l.Allow(CategoryMacro, "sess-1") {
		t.Error("macro capacity is 1, second call must be denied")
	}
}

func TestAuthRefillsPerMinute(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < 5; i++ {
		if !l.Allow(CategoryAuth, "dev-1") {
			t.Fatalf("auth %d denied within capacity", i+1)
		}
	}
	if l.Allow(CategoryAuth, "dev-1") {
		t.Fatal("auth should be exhausted")
	}

	// One second buys far less than a token at 5/60 tok/s.
	clock.Advance(time.Second)
	if l.Allow(CategoryAuth, "dev-1") {
		t.Error("auth refilled too fast")
	}

	clock.Advance(12 * time.Second)
	if !l.Allow(CategoryAuth, "dev-1") {
		t.Error("auth should have one token after ~13s")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()

	if !l.Allow(CategoryMacro, "sess-1") {
		t.Fatal("sess-1 macro denied")
	}
	if l.Allow(CategoryMacro, "sess-1") {
		t.Fatal("sess-1 macro should be exhausted")
	}
	if !l.Allow(CategoryMacro, "sess-2") {
		t.Error("sess-2 must have its own bucket")
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter()

	if !l.Allow(CategoryMacro, "sess-1") || l.Allow(CategoryMacro, "sess-1") {
		t.Fatal("setup failed")
	}
	l.Reset("sess-1")
	if !l.Allow(CategoryMacro, "sess-1") {
		t.Error("reset should restore a fresh bucket")
	}
}

func TestResetDoesNotMatchPrefixSiblings(t *testing.T) {
	l, _ := newTestLimiter()

	l.Allow(CategoryMacro, "sess-1")
	l.Allow(CategoryMacro, "sess-10")

	l.Reset("sess-1")
	// sess-10's bucket must survive a reset of sess-1.
	if l.Allow(CategoryMacro, "sess-10") {
		t.Error("sess-10 bucket was clobbered by Reset(sess-1)")
	}
}

func TestUnknownCategoryUnlimited(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 1000; i++ {
		if !l.Allow(Category("uncounted"), "sess-1") {
			t.Fatal("unknown categories must never be limited")
		}
	}
}

// Admissions over a window never exceed capacity + rate*window.
func TestAdmissionBoundUnderConcurrency(t *testing.T) {
	l, clock := newTestLimiter()

	var admitted int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := 0
			for i := 0; i < 50; i++ {
				if l.Allow(CategoryTouch, "sess-1") {
					local++
				}
			}
			mu.Lock()
			admitted += int64(local)
			mu.Unlock()
		}()
	}
	wg.Wait()
	clock.Advance(time.Second)

	var tail int64
	for i := 0; i < 400; i++ {
		if l.Allow(CategoryTouch, "sess-1") {
			tail++
		}
	}

	total := admitted + tail
	// capacity 100 + 1s * 100 tok/s
	if total > 200 {
		t.Errorf("admitted %d calls, bound is 200", total)
	}
}
