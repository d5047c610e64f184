package sessionguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func recordN(t *testing.T, e *testEngine, id string, action Action, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := e.RecordAttempt(context.Background(), id, action, false); err != nil {
			t.Fatalf("RecordAttempt #%d: %v", i+1, err)
		}
	}
}

func TestCheckRateLimitUntrackedIdentifier(t *testing.T) {
	e, done := newTestEngine(t, testConfig())
	defer done()

	res, err := e.CheckRateLimit(context.Background(), "198.51.100.7", ActionLogin)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed || res.RemainingAttempts != 5 || !res.ResetAt.Equal(t0.Add(15*time.Minute)) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestLoginBlockAfterFiveAttempts(t *testing.T) {
	e, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()
	const ip = "1.2.3.4"

	for i := 0; i < 5; i++ {
		res, err := e.CheckRateLimit(ctx, ip, ActionLogin)
		if err != nil {
			t.Fatalf("check #%d: %v", i+1, err)
		}
		if !res.Allowed || res.RemainingAttempts != 5-i {
			t.Fatalf("check #%d = %+v, want allowed with %d remaining", i+1, res, 5-i)
		}
		recordN(t, e, ip, ActionLogin, 1)
	}

	e.clock.Set(t0.Add(time.Second))
	res, err := e.CheckRateLimit(ctx, ip, ActionLogin)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed || res.RemainingAttempts != 0 {
		t.Fatalf("expected denial, got %+v", res)
	}
	if !res.ResetAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("resetAt = %v, want t0+1h", res.ResetAt)
	}
	if got := res.RetryAfter(e.clock.Now()); got != 3599 {
		t.Fatalf("RetryAfter = %d, want 3599", got)
	}

	if e.metrics.Value(MetricRateLimitBlocked) != 1 {
		t.Fatalf("blocked metric = %d", e.metrics.Value(MetricRateLimitBlocked))
	}
}

func TestRateLimitWindowLapseRestoresBudget(t *testing.T) {
	e, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	recordN(t, e, "u1", ActionLogin, 3)

	e.clock.Set(t0.Add(15*time.Minute + time.Second))
	res, err := e.CheckRateLimit(ctx, "u1", ActionLogin)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed || res.RemainingAttempts != 5 {
		t.Fatalf("expected fresh budget, got %+v", res)
	}

	status, err := e.GetRateLimitStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status) != 1 || status[0].Attempts != 3 {
		t.Fatalf("a check must not reset the stored record: %+v", status)
	}

	recordN(t, e, "u1", ActionLogin, 1)
	status, err = e.GetRateLimitStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status[0].Attempts != 1 || !status[0].WindowExpiresAt.Equal(e.clock.Now().Add(15*time.Minute)) {
		t.Fatalf("expected rolled-over window, got %+v", status[0])
	}
}

func TestBlockOutlivesWindow(t *testing.T) {
	e, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	recordN(t, e, "u1", ActionSignup, 3)

	e.clock.Set(t0.Add(2 * time.Hour))
	res, err := e.CheckRateLimit(ctx, "u1", ActionSignup)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed || !res.ResetAt.Equal(t0.Add(24*time.Hour)) {
		t.Fatalf("block should outlive the window, got %+v", res)
	}

	e.clock.Set(t0.Add(24*time.Hour + time.Second))
	res, err = e.CheckRateLimit(ctx, "u1", ActionSignup)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed || res.RemainingAttempts != 3 {
		t.Fatalf("expected allowance after block, got %+v", res)
	}
}

func TestBlockShorterThanWindowStillDeniesUntilWindowEnds(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Policies[ActionAPI] = RateLimitPolicy{MaxAttempts: 2, Window: time.Hour, BlockDuration: 10 * time.Minute}
	e, done := newTestEngine(t, cfg)
	defer done()
	ctx := context.Background()

	recordN(t, e, "key-1", ActionAPI, 2)

	e.clock.Set(t0.Add(11 * time.Minute))
	res, err := e.CheckRateLimit(ctx, "key-1", ActionAPI)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed || !res.ResetAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected denial until window end, got %+v", res)
	}

	e.clock.Set(t0.Add(time.Hour + time.Second))
	res, err = e.CheckRateLimit(ctx, "key-1", ActionAPI)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected allowance after window, got %+v", res)
	}
}

func TestRateLimitUnknownActionAndEmptyIdentifier(t *testing.T) {
	e, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	if _, err := e.CheckRateLimit(ctx, "u1", Action(42)); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("check: expected ErrUnknownAction, got %v", err)
	}
	if err := e.RecordAttempt(ctx, "u1", Action(42), true); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("record: expected ErrUnknownAction, got %v", err)
	}
	if err := e.ClearRateLimit(ctx, "u1", Action(42)); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("clear: expected ErrUnknownAction, got %v", err)
	}
	if _, err := e.CheckRateLimit(ctx, "", ActionLogin); !errors.Is(err, ErrEmptyIdentifier) {
		t.Fatalf("expected ErrEmptyIdentifier, got %v", err)
	}
}

func TestRecordAttemptCountsSuccessfulAttempts(t *testing.T) {
	e, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := e.RecordAttempt(ctx, "u1", ActionPasswordReset, true); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	res, err := e.CheckRateLimit(ctx, "u1", ActionPasswordReset)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed {
		t.Fatalf("successful attempts must count, got %+v", res)
	}
}

func TestRecordAttemptConcurrentNoLostUpdates(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Policies[ActionAPI] = RateLimitPolicy{MaxAttempts: 1000, Window: time.Hour, BlockDuration: time.Minute}
	e, done := newTestEngine(t, cfg)
	defer done()
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.RecordAttempt(ctx, "203.0.113.9", ActionAPI, false); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent record: %v", err)
	}

	status, err := e.GetRateLimitStatus(ctx, "203.0.113.9")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status) != 1 || status[0].Attempts != workers {
		t.Fatalf("attempts = %+v, want %d", status, workers)
	}
}

func TestClearRateLimit(t *testing.T) {
	e, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	recordN(t, e, "u1", ActionLogin, 5)
	recordN(t, e, "u1", ActionSignup, 1)
	recordN(t, e, "u1", ActionAPI, 1)

	if err := e.ClearRateLimit(ctx, "u1", ActionLogin); err != nil {
		t.Fatalf("clear login: %v", err)
	}
	res, err := e.CheckRateLimit(ctx, "u1", ActionLogin)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed || res.RemainingAttempts != 5 {
		t.Fatalf("expected cleared login, got %+v", res)
	}

	status, err := e.GetRateLimitStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status) != 2 || status[0].Action != ActionSignup || status[1].Action != ActionAPI {
		t.Fatalf("unexpected status %+v", status)
	}

	if err := e.ClearRateLimit(ctx, "u1"); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	status, err = e.GetRateLimitStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status) != 0 {
		t.Fatalf("expected no records, got %+v", status)
	}
}

func TestRateLimitStatusReportsBlock(t *testing.T) {
	e, done := newTestEngine(t, testConfig())
	defer done()

	recordN(t, e, "u1", ActionLogin, 5)
	status, err := e.GetRateLimitStatus(context.Background(), "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status) != 1 || !status[0].Blocked || !status[0].BlockedUntil.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestBlockedUntilSurvivesStoreRoundTrip(t *testing.T) {
	e, done := newTestEngine(t, testConfig())
	defer done()
	e.clock.Set(t0.Add(987654321 * time.Nanosecond))

	recordN(t, e, "u1", ActionLogin, 5)
	status, err := e.GetRateLimitStatus(context.Background(), "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	want := t0.Add(987*time.Millisecond + time.Hour)
	if len(status) != 1 || !status[0].BlockedUntil.Equal(want) {
		t.Fatalf("status = %+v, want blockedUntil %v", status, want)
	}
	res, err := e.CheckRateLimit(context.Background(), "u1", ActionLogin)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed || !res.ResetAt.Equal(want) {
		t.Fatalf("check = %+v, want denied until %v", res, want)
	}
}

func TestRetryAfterRoundsUp(t *testing.T) {
	tests := []struct {
		name string
		res  RateLimitResult
		want int
	}{
		{"allowed", RateLimitResult{Allowed: true, ResetAt: t0.Add(time.Minute)}, 0},
		{"past", RateLimitResult{ResetAt: t0.Add(-time.Second)}, 0},
		{"exact", RateLimitResult{ResetAt: t0.Add(2 * time.Second)}, 2},
		{"fraction", RateLimitResult{ResetAt: t0.Add(2*time.Second + time.Millisecond)}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.RetryAfter(t0); got != tt.want {
				t.Fatalf("RetryAfter = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRateLimitStoreUnavailable(t *testing.T) {
	e, done := newTestEngine(t, testConfig())
	defer done()
	e.mr.Close()

	if _, err := e.CheckRateLimit(context.Background(), "u1", ActionLogin); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if err := e.RecordAttempt(context.Background(), "u1", ActionLogin, false); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if e.metrics.Value(MetricStoreUnavailable) != 2 {
		t.Fatalf("store unavailable metric = %d", e.metrics.Value(MetricStoreUnavailable))
	}
}
