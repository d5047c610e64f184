package sessionguard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testUserProvider struct {
	mu    sync.Mutex
	users map[string]UserRecord
	err   error
	calls int
}

func newTestUserProvider(users ...UserRecord) *testUserProvider {
	up := &testUserProvider{users: make(map[string]UserRecord, len(users))}
	for _, u := range users {
		up.users[u.UserID] = u
	}
	return up
}

func (p *testUserProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return UserRecord{}, p.err
	}
	u, ok := p.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (p *testUserProvider) set(u UserRecord) {
	p.mu.Lock()
	p.users[u.UserID] = u
	p.mu.Unlock()
}

func (p *testUserProvider) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func activeUser(id string) UserRecord {
	return UserRecord{UserID: id, Email: id + "@example.com", Active: true, EmailVerified: true}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Janitor.Enabled = false
	cfg.Metrics.Enabled = true
	return cfg
}

type testEngine struct {
	*Engine
	clock *fakeClock
	users *testUserProvider
	mr    *miniredis.Miniredis
	rdb   *redis.Client
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestEngine(t testing.TB, cfg Config, opts ...func(*Builder)) (*testEngine, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	clock := newFakeClock(t0)
	users := newTestUserProvider(activeUser("u1"), activeUser("u2"))

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		_ = rdb.Close()
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	te := &testEngine{Engine: engine, clock: clock, users: users, mr: mr, rdb: rdb}
	return te, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func mustCreate(t testing.TB, e *testEngine, userID string) *CreatedSession {
	t.Helper()
	created, err := e.CreateSession(context.Background(), userID, CreateSessionOptions{UserAgent: "test-agent", IPAddress: "198.51.100.1"})
	if err != nil {
		t.Fatalf("CreateSession(%s): %v", userID, err)
	}
	return created
}
