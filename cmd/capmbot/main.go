package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alejandrodnm/capmbot/config"
	"github.com/alejandrodnm/capmbot/internal/adapters/metrics"
	"github.com/alejandrodnm/capmbot/internal/adapters/notify"
	"github.com/alejandrodnm/capmbot/internal/adapters/sim"
	"github.com/alejandrodnm/capmbot/internal/adapters/storage"
	"github.com/alejandrodnm/capmbot/internal/adapters/throttle"
	"github.com/alejandrodnm/capmbot/internal/application/engine"
	"github.com/alejandrodnm/capmbot/internal/ledger"
	"github.com/alejandrodnm/capmbot/internal/ports"
	"github.com/alejandrodnm/capmbot/internal/scenario"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	scenarioPath := flag.String("scenario", "scenarios/demo.yaml", "session to replay")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full tables (default: compact lines)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	sc, err := scenario.Load(*scenarioPath)
	if err != nil {
		slog.Error("failed to load scenario", "err", err, "path", *scenarioPath)
		os.Exit(1)
	}

	slog.Info("capmbot starting",
		"config", *configPath,
		"scenario", sc.Name,
		"markets", len(sc.Markets),
		"events", len(sc.Events),
		"risk_penalty", *cfg.Engine.RiskPenalty,
		"journal", cfg.Storage.JournalDSN,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, sc, notify.NewConsole(*table)); err != nil {
		slog.Error("replay failed", "err", err)
		os.Exit(1)
	}
	slog.Info("capmbot stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, sc *scenario.Scenario, notifier ports.Notifier) error {
	var m ports.Metrics = ports.NopMetrics{}
	if cfg.Metrics.Addr != "" {
		prom := metrics.NewPrometheus(cfg.Metrics.Namespace)
		m = prom
		go func() {
			if err := prom.Serve(ctx, cfg.Metrics.Addr); err != nil {
				slog.Error("metrics server failed", "err", err, "addr", cfg.Metrics.Addr)
			}
		}()
	}

	var journal *storage.Journal
	var j ports.Journal = ports.NopJournal{}
	if cfg.JournalEnabled() {
		var err error
		journal, err = storage.NewJournal(cfg.Storage.JournalDSN, cfg.Storage.JournalBuffer)
		if err != nil {
			return err
		}
		j = journal
		if n, err := journal.Prune(ctx, time.Now().Add(-cfg.Retention())); err != nil {
			slog.Warn("journal prune failed", "err", err)
		} else if n > 0 {
			slog.Info("journal pruned", "entries", n)
		}
		defer func() {
			closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := journal.Close(closeCtx); err != nil {
				slog.Warn("journal close failed", "err", err)
			}
		}()
	}

	clock := scenario.NewClock(sc.Start)
	exchange := sim.NewExchange(sc.Markets, clock.Now)

	seed := cfg.Engine.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	eng, err := engine.New(engineConfig(cfg), sc.Markets, engine.Deps{
		Sender:  throttle.New(exchange, cfg.Engine.OrdersPerSecond, cfg.Engine.OrderBurst, clock.Now),
		Journal: j,
		Metrics: m,
		Rand:    rand.New(rand.NewSource(seed)),
		Now:     clock.Now,
	})
	if err != nil {
		return err
	}

	n, err := scenario.NewRunner(eng, exchange, clock).Run(ctx, sc)
	if err != nil {
		slog.Warn("replay interrupted", "err", err, "events", n)
	}

	summary := eng.Summary()
	summary.Events = n
	summary.Sent = len(exchange.Sent())
	summary.Accepted, summary.Rejected = exchange.Stats()
	if journal != nil {
		summary.Journal = journalCounts(ctx, journal, eng.SessionID())
	}
	return notifier.Notify(ctx, summary)
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		RiskPenalty:  *cfg.Engine.RiskPenalty,
		SyncMaxDelay: cfg.Engine.SyncMaxDelay,
		MaxDelays: ledger.MaxDelays{
			MarketMaker: cfg.Engine.MMMaxDelay,
			Reactive:    cfg.Engine.ReactiveMaxDelay,
		},
		SessionLength:       cfg.SessionLength(),
		CreepWindow:         cfg.CreepWindow(),
		CreepMinSpreadTicks: cfg.Session.CreepMinSpreadTicks,
		CreepMaxUnits:       cfg.Session.CreepMaxUnits,
	}
}

// journalCounts tallies the session's journal once every entry is written.
func journalCounts(ctx context.Context, journal *storage.Journal, session string) map[string]int {
	if err := journal.Flush(ctx); err != nil {
		slog.Warn("journal flush failed", "err", err)
		return nil
	}
	counts, err := journal.CountByKind(ctx, session)
	if err != nil {
		slog.Warn("journal summary failed", "err", err)
		return nil
	}
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		out[string(k)] = v
	}
	if d := journal.Dropped(); d > 0 {
		slog.Warn("journal entries dropped", "count", d)
	}
	return out
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stdout
	if cfg.File != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
