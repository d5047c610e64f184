package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"
)

type blockingSink struct {
	release chan struct{}
	got     chan Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.got <- e
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("disabled dispatcher must be nil")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports drops")
	}
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{EventType: "session_created"})
	}
	d.Close()

	for i := 0; i < 3; i++ {
		select {
		case e := <-sink.Events():
			if e.EventType != "session_created" {
				t.Fatalf("unexpected event %q", e.EventType)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}

	d.Emit(context.Background(), Event{EventType: "late"})
	select {
	case e := <-sink.Events():
		t.Fatalf("emit after close delivered %q", e.EventType)
	default:
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 16)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "rate_limit_attempt"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a stalled sink and buffer of 1")
	}
	close(sink.release)
	d.Close()
}

func attempt(identifier, action string, success bool, at time.Time) Event {
	return Event{
		Timestamp:  at,
		EventType:  EventRateLimitAttempt,
		Identifier: identifier,
		Action:     action,
		Success:    success,
	}
}

// drainSink returns every event the channel sink holds.
func drainSink(sink *ChannelSink) []Event {
	var out []Event
	for {
		select {
		case e := <-sink.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestDispatcherCoalescesAttemptBurst(t *testing.T) {
	sink := NewChannelSink(64)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8, CoalesceWindow: time.Hour}, sink)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		e := attempt("198.51.100.7", "login", i%10 == 0, base.Add(time.Duration(i)*time.Millisecond))
		e.Metadata = map[string]string{"attempts": strconv.Itoa(i + 1)}
		d.Emit(context.Background(), e)
	}
	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), attempt("198.51.100.8", "login", false, base))
	}
	d.Close()

	events := drainSink(sink)
	if len(events) != 2 {
		t.Fatalf("events = %d, want one summary per identifier", len(events))
	}
	byID := map[string]Event{}
	for _, e := range events {
		byID[e.Identifier] = e
	}
	burst := byID["198.51.100.7"]
	if burst.Metadata[MetaCoalesced] != "50" || burst.Metadata[MetaFailures] != "45" {
		t.Fatalf("unexpected summary metadata %v", burst.Metadata)
	}
	if burst.Metadata["attempts"] != "50" {
		t.Fatalf("summary should carry the last attempt's metadata, got %v", burst.Metadata)
	}
	if !burst.Timestamp.Equal(base) || burst.Success {
		t.Fatalf("summary = %+v, want first timestamp and failed", burst)
	}
	if burst.Metadata[MetaLastAttemptAt] != base.Add(49*time.Millisecond).Format(time.RFC3339Nano) {
		t.Fatalf("last_attempt_at = %q", burst.Metadata[MetaLastAttemptAt])
	}
	if got := d.Coalesced(); got != 51 {
		t.Fatalf("coalesced = %d, want 51", got)
	}
}

func TestDispatcherSingleAttemptDeliveredUnchanged(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, CoalesceWindow: time.Hour}, sink)
	d.Emit(context.Background(), attempt("u1", "api", true, time.Time{}))
	d.Close()

	events := drainSink(sink)
	if len(events) != 1 || events[0].Metadata != nil || !events[0].Success {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestDispatcherFlushesRunBeforeRelatedEvent(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16, CoalesceWindow: time.Hour}, sink)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d.Emit(ctx, attempt("1.2.3.4", "login", false, time.Time{}))
	}
	d.Emit(ctx, Event{EventType: EventRateLimitTriggered, Identifier: "1.2.3.4", Action: "login"})
	for i := 0; i < 2; i++ {
		d.Emit(ctx, attempt("1.2.3.4", "login", false, time.Time{}))
	}
	d.Close()

	events := drainSink(sink)
	var got []string
	for _, e := range events {
		got = append(got, e.EventType+":"+e.Metadata[MetaCoalesced])
	}
	want := "rate_limit_attempt:5,rate_limit_triggered:,rate_limit_attempt:2"
	if strings.Join(got, ",") != want {
		t.Fatalf("order = %v, want %s", got, want)
	}
}

func TestDispatcherFlushesRunAfterWindow(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, CoalesceWindow: 20 * time.Millisecond}, sink)
	defer d.Close()

	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), attempt("u1", "signup", false, time.Time{}))
	}

	select {
	case e := <-sink.Events():
		if e.Metadata[MetaCoalesced] != "3" {
			t.Fatalf("unexpected summary %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("open run was not flushed after its window")
	}
}

func TestDispatcherAttemptFloodDoesNotCrowdOutSessionEvents(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 16)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 2, DropIfFull: true, CoalesceWindow: time.Hour}, sink)

	for i := 0; i < 1000; i++ {
		d.Emit(context.Background(), attempt("203.0.113.9", "login", false, time.Time{}))
	}
	d.Emit(context.Background(), Event{EventType: EventSessionCreated, UserID: "u1"})
	if got := d.Dropped(); got != 0 {
		t.Fatalf("dropped = %d, want 0 while attempts are folded", got)
	}

	close(sink.release)
	d.Close()
	var types []string
	for len(sink.got) > 0 {
		types = append(types, (<-sink.got).EventType)
	}
	if strings.Join(types, ",") != "session_created,rate_limit_attempt" {
		t.Fatalf("delivered = %v", types)
	}
}

func TestJSONWriterSinkOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "logout_all", UserID: "u1", Success: true})
	sink.Emit(context.Background(), Event{EventType: "rate_limit_cleared", Identifier: "1.2.3.4"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	var e Event
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Identifier != "1.2.3.4" || e.EventType != "rate_limit_cleared" {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestSlogSinkWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	sink.Emit(context.Background(), Event{
		EventType:  "rate_limit_triggered",
		Identifier: "1.2.3.4",
		Action:     "login",
		Metadata:   map[string]string{"attempts": "5"},
	})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if line["event_type"] != "rate_limit_triggered" || line["action"] != "login" || line["meta.attempts"] != "5" {
		t.Fatalf("unexpected log line %v", line)
	}
}
