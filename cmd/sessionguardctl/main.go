// Command sessionguardctl operates a sessionguard deployment: it runs the
// expired-session janitor, inspects and clears rate-limit records, applies
// the PostgreSQL schema, and load-tests the session paths.
//
// Settings come from the environment or a .env file (see internal/envconfig).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrEthical07/sessionguard"
	"github.com/MrEthical07/sessionguard/internal/envconfig"
	sgprom "github.com/MrEthical07/sessionguard/metrics/export/prometheus"
	"github.com/MrEthical07/sessionguard/stores/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const usage = `usage: sessionguardctl [-env file] <command> [flags]

commands:
  janitor   run the expired-session janitor until interrupted
  sweep     delete expired sessions once and exit
  status    print rate-limit records for an identifier
  clear     clear rate-limit records for an identifier
  migrate   apply (up) or revert (down) the PostgreSQL schema
  bench     seed sessions and measure validate/refresh latency
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := flag.NewFlagSet("sessionguardctl", flag.ContinueOnError)
	envFile := global.String("env", ".env", "path to an optional .env file")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	cfg, err := envconfig.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "janitor":
		err = runJanitor(ctx, cfg, logger)
	case "sweep":
		err = runSweep(ctx, cfg, logger)
	case "status":
		err = runStatus(ctx, cfg, logger, rest)
	case "clear":
		err = runClear(ctx, cfg, logger, rest)
	case "migrate":
		err = runMigrate(cfg, logger, rest)
	case "bench":
		err = runBench(ctx, cfg, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		global.Usage()
		return 2
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		logger.Error("command failed", slog.String("command", cmd), slog.Any("error", err))
		return 1
	}
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// noUsers backs the maintenance engine. Maintenance commands never validate
// sessions, so every lookup reports an unknown user.
type noUsers struct{}

func (noUsers) GetUserByID(context.Context, string) (sessionguard.UserRecord, error) {
	return sessionguard.UserRecord{}, sessionguard.ErrUserNotFound
}

// openEngine connects to the configured store and builds an engine. The
// returned close func releases the engine and the connection.
func openEngine(ctx context.Context, cfg *envconfig.Config, logger *slog.Logger, janitor bool) (*sessionguard.Engine, func(), error) {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, nil, err
	}
	engineCfg.Janitor.Enabled = janitor

	b := sessionguard.New().
		WithConfig(engineCfg).
		WithUserProvider(noUsers{}).
		WithLogger(logger)
	if engineCfg.Audit.Enabled {
		b.WithAuditSink(sessionguard.NewSlogSink(logger))
	}

	var release func()
	switch cfg.Store {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.WithPostgres(pool)
		release = pool.Close
	default:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		b.WithRedis(client)
		release = func() { _ = client.Close() }
	}

	engine, err := b.Build()
	if err != nil {
		release()
		return nil, nil, err
	}
	if err := engine.SessionStoreHealth(ctx); err != nil {
		engine.Close()
		release()
		return nil, nil, err
	}
	return engine, func() {
		engine.Close()
		release()
	}, nil
}

func runJanitor(ctx context.Context, cfg *envconfig.Config, logger *slog.Logger) error {
	engine, closeEngine, err := openEngine(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer closeEngine()

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", sgprom.Handler(sgprom.NewCollector(engine)))
		srv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
		logger.Info("metrics listening", slog.String("addr", cfg.MetricsAddr))
	}

	engineCfg := engine.Config()
	logger.Info("janitor running",
		slog.String("store", cfg.Store),
		slog.Duration("interval", engineCfg.Janitor.Interval),
		slog.Int("batch_size", engineCfg.Janitor.BatchSize),
	)
	<-ctx.Done()
	logger.Info("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

func runSweep(ctx context.Context, cfg *envconfig.Config, logger *slog.Logger) error {
	engine, closeEngine, err := openEngine(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer closeEngine()

	deleted, err := engine.CleanupExpiredSessions(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d expired sessions\n", deleted)
	return nil
}

func runStatus(ctx context.Context, cfg *envconfig.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	identifier := fs.String("identifier", "", "rate-limit identifier (IP, email, user ID)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *identifier == "" {
		return errors.New("status: -identifier is required")
	}

	engine, closeEngine, err := openEngine(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer closeEngine()

	rows, err := engine.GetRateLimitStatus(ctx, *identifier)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Printf("%s: no rate-limit records\n", *identifier)
		return nil
	}
	for _, r := range rows {
		fmt.Printf("%-14s attempts=%d blocked=%t window_expires=%s", r.Action, r.Attempts, r.Blocked, r.WindowExpiresAt.Format(time.RFC3339))
		if r.Blocked {
			fmt.Printf(" blocked_until=%s", r.BlockedUntil.Format(time.RFC3339))
		}
		fmt.Println()
	}
	return nil
}

func runClear(ctx context.Context, cfg *envconfig.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	identifier := fs.String("identifier", "", "rate-limit identifier (IP, email, user ID)")
	actionName := fs.String("action", "", "clear only this action (login, signup, passwordReset, api)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *identifier == "" {
		return errors.New("clear: -identifier is required")
	}

	var actions []sessionguard.Action
	if *actionName != "" {
		a, err := sessionguard.ParseAction(*actionName)
		if err != nil {
			return err
		}
		actions = append(actions, a)
	}

	engine, closeEngine, err := openEngine(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer closeEngine()

	if err := engine.ClearRateLimit(ctx, *identifier, actions...); err != nil {
		return err
	}
	fmt.Printf("cleared rate limits for %s\n", *identifier)
	return nil
}

func runMigrate(cfg *envconfig.Config, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("migrate: expected up or down")
	}
	if cfg.Store != "postgres" {
		return errors.New("migrate: SESSIONGUARD_STORE must be postgres")
	}
	if err := postgres.Migrate(cfg.DatabaseURL, args[0]); err != nil {
		return err
	}
	logger.Info("migration applied", slog.String("direction", args[0]))
	return nil
}
