package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/sessionguard"
	"github.com/MrEthical07/sessionguard/internal/envconfig"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// benchUsers reports every user as active.
type benchUsers struct{}

func (benchUsers) GetUserByID(_ context.Context, userID string) (sessionguard.UserRecord, error) {
	return sessionguard.UserRecord{UserID: userID, Active: true}, nil
}

func runBench(ctx context.Context, cfg *envconfig.Config, args []string) error {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	var (
		sessions    = fs.Int("sessions", 10000, "number of sessions to seed")
		users       = fs.Int("users", 1000, "number of distinct users owning the sessions")
		concurrency = fs.Int("concurrency", 256, "number of concurrent workers")
		ops         = fs.Int("ops", 100000, "operations per phase (validate, refresh, ratelimit)")
		redisAddr   = fs.String("redis-addr", "", "redis address; if empty, miniredis is used")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessions <= 0 || *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		return fmt.Errorf("bench: sessions, users, concurrency, and ops must be > 0")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if *redisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{*redisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", *redisAddr)
	}
	defer cleanup()

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	engineCfg.Janitor.Enabled = false
	engineCfg.Audit.Enabled = false
	engineCfg.Metrics.Enabled = true
	engineCfg.Metrics.EnableLatencyHistograms = true

	engine, err := sessionguard.New().
		WithConfig(engineCfg).
		WithRedis(client).
		WithUserProvider(benchUsers{}).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	tokens := make([]string, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range tokens {
		created, err := engine.CreateSession(ctx, fmt.Sprintf("bench-user-%d", i%*users), sessionguard.CreateSessionOptions{
			UserAgent: "sessionguardctl-bench",
			IPAddress: "127.0.0.1",
		})
		if err != nil {
			return fmt.Errorf("seed session %d: %w", i, err)
		}
		tokens[i] = created.Token
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) bool {
		res, err := engine.ValidateSession(ctx, tokens[r.Intn(len(tokens))])
		return err == nil && res != nil
	})
	refreshStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) bool {
		res, err := engine.RefreshSession(ctx, tokens[r.Intn(len(tokens))])
		return err == nil && res.Success
	})
	rateStats := runPhase(*ops, *concurrency, 4099, func(r *rand.Rand) bool {
		identifier := fmt.Sprintf("198.51.100.%d", r.Intn(256))
		if _, err := engine.CheckRateLimit(ctx, identifier, sessionguard.ActionAPI); err != nil {
			return false
		}
		return engine.RecordAttempt(ctx, identifier, sessionguard.ActionAPI, true) == nil
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
	printStats("ratelimit", rateStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("engine counters: %v\n", snap.Counters)
	return nil
}

// runPhase executes op ops times across concurrency workers. op reports
// whether the call succeeded.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand) bool) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				ok := op(r)
				d := time.Since(t0)
				if !ok {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

// percentile expects samples sorted ascending.
func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
