package session

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func testSession(now time.Time) *Session {
	return &Session{
		SchemaVersion:  CurrentSchemaVersion,
		SessionID:      "3f0c6f1e-8a1b-4c55-9a52-2d0b7c6e1f10",
		UserID:         "u-1",
		TokenHash:      [32]byte{1, 2, 3},
		UserAgent:      "Mozilla/5.0",
		IPAddress:      "203.0.113.7",
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(30 * 24 * time.Hour),
	}
}

func TestEncodeDecodeImmutableFields(t *testing.T) {
	now := time.UnixMilli(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli())
	in := testSession(now)

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if out.SessionID != in.SessionID || out.UserID != in.UserID || out.TokenHash != in.TokenHash {
		t.Fatalf("identifiers changed: %+v", out)
	}
	if out.UserAgent != in.UserAgent || out.IPAddress != in.IPAddress {
		t.Fatalf("client metadata changed: %+v", out)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("createdAt = %v, want %v", out.CreatedAt, in.CreatedAt)
	}
	if !out.ExpiresAt.IsZero() {
		t.Fatal("expiresAt is stored outside the blob and must not be decoded from it")
	}
}

func TestDecodeRejectsUnknownSchemaVersion(t *testing.T) {
	data, err := Encode(testSession(time.Now()))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	data[0] = CurrentSchemaVersion + 1

	_, err = Decode(data)
	if err == nil || !strings.Contains(err.Error(), "unsupported session schema version") {
		t.Fatalf("expected schema version error, got %v", err)
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	data, err := Encode(testSession(time.Now()))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(append(data, 0)); err == nil {
		t.Fatal("expected error for trailing bytes")
	}
}

func TestEncodeRejectsOversizedFields(t *testing.T) {
	sess := testSession(time.Now())
	sess.UserAgent = strings.Repeat("a", maxUserAgentBytes+1)
	if _, err := Encode(sess); !errors.Is(err, ErrFieldTooLong) {
		t.Fatalf("expected ErrFieldTooLong for user agent, got %v", err)
	}

	sess = testSession(time.Now())
	sess.UserID = strings.Repeat("u", maxShortField+1)
	if _, err := Encode(sess); !errors.Is(err, ErrFieldTooLong) {
		t.Fatalf("expected ErrFieldTooLong for user id, got %v", err)
	}
}

// FuzzSessionDecode feeds arbitrary bytes to the decoder; it must never panic
// and anything it accepts must re-encode to the same bytes.
func FuzzSessionDecode(f *testing.F) {
	encoded, err := Encode(testSession(time.UnixMilli(1700000000000)))
	if err == nil {
		f.Add(encoded)
		f.Add(encoded[:10])
		f.Add(encoded[:len(encoded)-1])
	}
	f.Add([]byte{})
	f.Add([]byte{CurrentSchemaVersion})
	f.Add([]byte{CurrentSchemaVersion, 255, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		sess, err := Decode(data)
		if err != nil {
			return
		}
		again, err := Encode(sess)
		if err != nil {
			t.Fatalf("decoded session does not re-encode: %v", err)
		}
		if !bytes.Equal(again, data) {
			t.Fatalf("re-encode mismatch:\n got %x\nwant %x", again, data)
		}
	})
}
