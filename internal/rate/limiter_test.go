package rate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

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

func newLimiterTest(t *testing.T, policies PolicySource) (*Limiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	clock := &fakeClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	return New(rdb, policies, WithClock(clock.Now)), mr, clock
}

func TestSlidingWindowDeniesThenRecovers(t *testing.T) {
	l, _, clock := newLimiterTest(t, StaticPolicies{
		ActionLogin: {MaxAttempts: 3, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, "10.0.0.1", ActionLogin)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !d.Allowed || d.AttemptsRemaining != 3-i {
			t.Fatalf("check %d: unexpected decision %+v", i, d)
		}
		if err := l.Record(ctx, "10.0.0.1", ActionLogin); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		clock.Advance(time.Second)
	}

	d, err := l.Check(ctx, "10.0.0.1", ActionLogin)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected the fourth check to be denied")
	}
	// Oldest attempt at t0, now t0+3s: 57s left.
	if d.RetryAfter != 57*time.Second {
		t.Fatalf("expected retry after 57s, got %v", d.RetryAfter)
	}

	// Other identifiers and actions are unaffected.
	if d, _ := l.Check(ctx, "10.0.0.2", ActionLogin); !d.Allowed {
		t.Fatal("different identifier was denied")
	}

	clock.Advance(time.Minute)
	d, err = l.Check(ctx, "10.0.0.1", ActionLogin)
	if err != nil {
		t.Fatalf("check after window: %v", err)
	}
	if !d.Allowed || d.AttemptsRemaining != 3 {
		t.Fatalf("expected a fresh window, got %+v", d)
	}
}

func TestWindowSlidesPerAttempt(t *testing.T) {
	l, _, clock := newLimiterTest(t, StaticPolicies{
		ActionRegister: {MaxAttempts: 2, Window: time.Minute},
	})
	ctx := context.Background()

	_ = l.Record(ctx, "ip", ActionRegister)
	clock.Advance(40 * time.Second)
	_ = l.Record(ctx, "ip", ActionRegister)
	clock.Advance(25 * time.Second)

	// The first attempt aged out, the second is still inside the window.
	d, _ := l.Check(ctx, "ip", ActionRegister)
	if !d.Allowed || d.AttemptsRemaining != 1 {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestBlockOutlivesWindow(t *testing.T) {
	l, mr, clock := newLimiterTest(t, StaticPolicies{
		ActionPasswordReset: {MaxAttempts: 1, Window: time.Minute, Block: 10 * time.Minute},
	})
	ctx := context.Background()

	_ = l.Record(ctx, "ip", ActionPasswordReset)
	d, _ := l.Check(ctx, "ip", ActionPasswordReset)
	if d.Allowed || d.RetryAfter != 10*time.Minute {
		t.Fatalf("expected a 10m block, got %+v", d)
	}

	clock.Advance(2 * time.Minute)
	mr.FastForward(2 * time.Minute)
	d, _ = l.Check(ctx, "ip", ActionPasswordReset)
	if d.Allowed {
		t.Fatal("block lifted with the window")
	}
	if d.RetryAfter != 8*time.Minute {
		t.Fatalf("expected 8m remaining, got %v", d.RetryAfter)
	}

	clock.Advance(8 * time.Minute)
	mr.FastForward(8 * time.Minute)
	if d, _ := l.Check(ctx, "ip", ActionPasswordReset); !d.Allowed {
		t.Fatalf("expected allow after block, got %+v", d)
	}
}

func TestEnforceRecordsOnlyWhenAllowed(t *testing.T) {
	l, mr, _ := newLimiterTest(t, StaticPolicies{
		ActionTwoFactor: {MaxAttempts: 2, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.Enforce(ctx, "u1", ActionTwoFactor); err != nil {
			t.Fatalf("enforce %d: %v", i, err)
		}
	}
	d, err := l.Enforce(ctx, "u1", ActionTwoFactor)
	if !errors.Is(err, ErrRateLimited) || d.Allowed {
		t.Fatalf("expected ErrRateLimited, got %v (%+v)", err, d)
	}

	members, err := mr.ZMembers(attemptKey(ActionTwoFactor, "u1"))
	if err != nil {
		t.Fatalf("zmembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("denied attempt was recorded: %d members", len(members))
	}
}

func TestResetClearsLogAndBlock(t *testing.T) {
	l, _, _ := newLimiterTest(t, StaticPolicies{
		ActionLogin: {MaxAttempts: 1, Window: time.Hour, Block: time.Hour},
	})
	ctx := context.Background()

	_ = l.Record(ctx, "ip", ActionLogin)
	if d, _ := l.Check(ctx, "ip", ActionLogin); d.Allowed {
		t.Fatal("expected denial")
	}
	if err := l.Reset(ctx, "ip", ActionLogin); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if d, _ := l.Check(ctx, "ip", ActionLogin); !d.Allowed {
		t.Fatalf("expected allow after reset, got %+v", d)
	}
}

func TestUnknownActionFailsLoudly(t *testing.T) {
	l, _, _ := newLimiterTest(t, StaticPolicies{})
	ctx := context.Background()

	if _, err := l.Check(ctx, "ip", "upload"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if err := l.Record(ctx, "ip", "upload"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestRedisDownIsUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()
	l := New(rdb, StaticPolicies{ActionLogin: {MaxAttempts: 1, Window: time.Minute}})

	if _, err := l.Check(context.Background(), "ip", ActionLogin); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestEnforceIsAtomicUnderConcurrency(t *testing.T) {
	l, mr, _ := newLimiterTest(t, StaticPolicies{
		ActionLogin: {MaxAttempts: 3, Window: time.Minute},
	})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		denied  int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Enforce(ctx, "10.0.0.9", ActionLogin)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				allowed++
			case errors.Is(err, ErrRateLimited):
				denied++
			default:
				t.Errorf("enforce: %v", err)
			}
		}()
	}
	wg.Wait()

	if allowed != 3 || denied != 47 {
		t.Fatalf("allowed=%d denied=%d, want 3 and 47", allowed, denied)
	}
	members, err := mr.ZMembers(attemptKey(ActionLogin, "10.0.0.9"))
	if err != nil {
		t.Fatalf("zmembers: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("recorded %d attempts, want 3", len(members))
	}
}

func TestEnforceStartsBlock(t *testing.T) {
	l, _, _ := newLimiterTest(t, StaticPolicies{
		ActionTwoFactor: {MaxAttempts: 1, Window: time.Minute, Block: 15 * time.Minute},
	})
	ctx := context.Background()

	d, err := l.Enforce(ctx, "u1", ActionTwoFactor)
	if err != nil || !d.Allowed || d.AttemptsRemaining != 1 {
		t.Fatalf("first enforce: %+v, %v", d, err)
	}
	d, err = l.Enforce(ctx, "u1", ActionTwoFactor)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if d.RetryAfter != 15*time.Minute {
		t.Fatalf("expected a 15m block, got %v", d.RetryAfter)
	}
}
