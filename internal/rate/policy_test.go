package rate

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseActionRoundTrip(t *testing.T) {
	for _, a := range Actions {
		got, err := ParseAction(a.String())
		if err != nil {
			t.Fatalf("ParseAction(%q): %v", a.String(), err)
		}
		if got != a {
			t.Fatalf("ParseAction(%q) = %v, want %v", a.String(), got, a)
		}
	}

	if _, err := ParseAction("download"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if Action(0).Valid() || Action(9).Valid() {
		t.Fatal("out-of-range actions must be invalid")
	}
}

func TestEvaluateDecisionOrder(t *testing.T) {
	p := Policy{MaxAttempts: 5, Window: 15 * time.Minute, BlockDuration: time.Hour}

	tests := []struct {
		name      string
		rec       *Record
		now       time.Time
		allowed   bool
		remaining int
		resetAt   time.Time
	}{
		{
			name:      "untracked",
			rec:       nil,
			now:       t0,
			allowed:   true,
			remaining: 5,
			resetAt:   t0.Add(15 * time.Minute),
		},
		{
			name: "blocked wins over lapsed window",
			rec: &Record{
				Attempts:        5,
				WindowExpiresAt: t0.Add(-time.Minute),
				BlockedUntil:    t0.Add(30 * time.Minute),
			},
			now:       t0,
			allowed:   false,
			remaining: 0,
			resetAt:   t0.Add(30 * time.Minute),
		},
		{
			name: "lapsed window projects fresh budget",
			rec: &Record{
				Attempts:        4,
				WindowExpiresAt: t0.Add(-time.Second),
			},
			now:       t0,
			allowed:   true,
			remaining: 5,
			resetAt:   t0.Add(15 * time.Minute),
		},
		{
			name: "counting",
			rec: &Record{
				Attempts:        2,
				WindowExpiresAt: t0.Add(10 * time.Minute),
			},
			now:       t0,
			allowed:   true,
			remaining: 3,
			resetAt:   t0.Add(10 * time.Minute),
		},
		{
			name: "at max without block",
			rec: &Record{
				Attempts:        5,
				WindowExpiresAt: t0.Add(10 * time.Minute),
			},
			now:       t0,
			allowed:   false,
			remaining: 0,
			resetAt:   t0.Add(10 * time.Minute),
		},
		{
			name: "block already elapsed, window still open",
			rec: &Record{
				Attempts:        5,
				WindowExpiresAt: t0.Add(10 * time.Minute),
				BlockedUntil:    t0.Add(-time.Second),
			},
			now:       t0,
			allowed:   false,
			remaining: 0,
			resetAt:   t0.Add(10 * time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.rec, p, tt.now)
			if d.Allowed != tt.allowed || d.Remaining != tt.remaining || !d.ResetAt.Equal(tt.resetAt) {
				t.Fatalf("Evaluate = %+v, want allowed=%v remaining=%d resetAt=%v",
					d, tt.allowed, tt.remaining, tt.resetAt)
			}
		})
	}
}

func TestEvaluateDoesNotMutate(t *testing.T) {
	p := Policy{MaxAttempts: 3, Window: time.Minute, BlockDuration: time.Hour}
	rec := &Record{Attempts: 2, WindowExpiresAt: t0.Add(-time.Minute)}
	before := *rec

	_ = Evaluate(rec, p, t0)

	if *rec != before {
		t.Fatalf("Evaluate mutated record: %+v -> %+v", before, *rec)
	}
}

func TestAdvanceFirstAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 5, Window: 15 * time.Minute, BlockDuration: time.Hour}
	rec := Advance(nil, "1.2.3.4", ActionLogin, p, t0)

	if rec.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", rec.Attempts)
	}
	if !rec.WindowExpiresAt.Equal(t0.Add(15 * time.Minute)) {
		t.Fatalf("window = %v", rec.WindowExpiresAt)
	}
	if !rec.BlockedUntil.IsZero() {
		t.Fatalf("unexpected block %v", rec.BlockedUntil)
	}
	if !rec.CreatedAt.Equal(t0) || !rec.LastAttemptAt.Equal(t0) {
		t.Fatalf("timestamps not set: %+v", rec)
	}
}

func TestAdvanceBlocksAtMax(t *testing.T) {
	p := Policy{MaxAttempts: 5, Window: 15 * time.Minute, BlockDuration: time.Hour}

	var rec *Record
	for i := 0; i < 5; i++ {
		next := Advance(rec, "1.2.3.4", ActionLogin, p, t0)
		rec = &next
	}

	if rec.Attempts != 5 {
		t.Fatalf("attempts = %d, want 5", rec.Attempts)
	}
	if !rec.BlockedUntil.Equal(t0.Add(time.Hour)) {
		t.Fatalf("blockedUntil = %v, want %v", rec.BlockedUntil, t0.Add(time.Hour))
	}
}

func TestAdvanceWindowRolloverResets(t *testing.T) {
	p := Policy{MaxAttempts: 3, Window: time.Minute, BlockDuration: 30 * time.Second}
	rec := &Record{
		Identifier:      "u1",
		Action:          ActionAPI,
		Attempts:        3,
		WindowExpiresAt: t0,
		BlockedUntil:    t0.Add(-time.Second),
		CreatedAt:       t0.Add(-time.Hour),
	}

	later := t0.Add(time.Second)
	next := Advance(rec, "u1", ActionAPI, p, later)

	if next.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", next.Attempts)
	}
	if !next.WindowExpiresAt.Equal(later.Add(time.Minute)) {
		t.Fatalf("window = %v", next.WindowExpiresAt)
	}
	if !next.BlockedUntil.IsZero() {
		t.Fatalf("block must be cleared on rollover, got %v", next.BlockedUntil)
	}
	if !next.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("createdAt must survive rollover")
	}
	if rec.Attempts != 3 {
		t.Fatal("Advance mutated its input")
	}
}

func TestShortBlockLeavesKeyAtMaxUntilWindowLapses(t *testing.T) {
	p := Policy{MaxAttempts: 2, Window: time.Hour, BlockDuration: 10 * time.Minute}

	first := Advance(nil, "u1", ActionAPI, p, t0)
	second := Advance(&first, "u1", ActionAPI, p, t0)
	if !second.BlockedUntil.Equal(t0.Add(10 * time.Minute)) {
		t.Fatalf("blockedUntil = %v", second.BlockedUntil)
	}

	afterBlock := t0.Add(11 * time.Minute)
	if second.Blocked(afterBlock) {
		t.Fatal("block should have elapsed")
	}
	d := Evaluate(&second, p, afterBlock)
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected denial via exhausted window, got %+v", d)
	}
	if !d.ResetAt.Equal(second.WindowExpiresAt) {
		t.Fatalf("resetAt = %v, want window end %v", d.ResetAt, second.WindowExpiresAt)
	}
}
