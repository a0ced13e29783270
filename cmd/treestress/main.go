package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/aryszka/locktree"
	"github.com/aryszka/locktree/internal/stress"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "treestress",
		Usage:   "concurrent put/get load against the locked trees",
		Version: versioninfo.Short(),
		Flags:   flags(),
		Action:  runStress,
	}

	return app.Run(args)
}

func flags() []cli.Flag {
	defaults := stress.DefaultConfig()
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "workers",
			Usage:   fmt.Sprintf("number of concurrent workers, 0 for a random number between %d and %d", stress.MinWorkers, stress.MaxWorkers),
			EnvVars: []string{"LOCKTREE_WORKERS"},
		},
		&cli.IntFlag{
			Name:    "ops",
			Usage:   "operations issued by each worker",
			Value:   defaults.Ops,
			EnvVars: []string{"LOCKTREE_OPS"},
		},
		&cli.IntFlag{
			Name:    "key-size",
			Usage:   "size of the random keys in bytes",
			Value:   defaults.KeySize,
			EnvVars: []string{"LOCKTREE_KEY_SIZE"},
		},
		&cli.IntFlag{
			Name:    "value-size",
			Usage:   "size of the random values in bytes",
			Value:   defaults.ValueSize,
			EnvVars: []string{"LOCKTREE_VALUE_SIZE"},
		},
		&cli.Float64Flag{
			Name:    "put-ratio",
			Usage:   "probability of an operation being a put",
			Value:   defaults.PutRatio,
			EnvVars: []string{"LOCKTREE_PUT_RATIO"},
		},
		&cli.Uint64Flag{
			Name:    "seed",
			Usage:   "random seed, 0 to seed from the clock",
			EnvVars: []string{"LOCKTREE_SEED"},
		},
		&cli.StringFlag{
			Name:    "variant",
			Usage:   "trees to load: coarse, readwrite or both",
			Value:   "both",
			EnvVars: []string{"LOCKTREE_VARIANT"},
		},
		&cli.IntFlag{
			Name:    "report-every",
			Usage:   "log the active workers every n iterations, 0 to disable",
			Value:   defaults.ReportEvery,
			EnvVars: []string{"LOCKTREE_REPORT_EVERY"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"LOCKTREE_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "address of the prometheus metrics endpoint, empty to disable",
			EnvVars: []string{"LOCKTREE_METRICS_LISTEN"},
		},
		&cli.DurationFlag{
			Name:    "metrics-linger",
			Usage:   "how long to keep serving metrics after the run",
			EnvVars: []string{"LOCKTREE_METRICS_LINGER"},
		},
	}
}

func configLogger(cctx *cli.Context) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn", "warning":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		return nil, fmt.Errorf("unknown log level: %s", cctx.String("log-level"))
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, nil
}

func targets(variant string) ([]stress.Target, error) {
	coarse := stress.Target{Name: locktree.VariantCoarse, Store: locktree.NewCoarse()}
	rw := stress.Target{Name: locktree.VariantReadWrite, Store: locktree.NewReadWrite()}
	switch variant {
	case locktree.VariantCoarse:
		return []stress.Target{coarse}, nil
	case locktree.VariantReadWrite:
		return []stress.Target{rw}, nil
	case "both":
		return []stress.Target{coarse, rw}, nil
	default:
		return nil, fmt.Errorf("unknown variant: %s", variant)
	}
}

func serveMetrics(log *slog.Logger, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "err", err)
		}
	}()

	return srv
}

func runStress(cctx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, err := configLogger(cctx)
	if err != nil {
		return err
	}

	t, err := targets(cctx.String("variant"))
	if err != nil {
		return err
	}

	if addr := cctx.String("metrics-listen"); addr != "" {
		srv := serveMetrics(log, addr)
		defer func() {
			if linger := cctx.Duration("metrics-linger"); linger > 0 {
				log.Info("lingering for metrics collection", "duration", linger)
				select {
				case <-time.After(linger):
				case <-ctx.Done():
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("failed to shut down metrics server", "err", err)
			}
		}()
	}

	cfg := stress.Config{
		Workers:     cctx.Int("workers"),
		Ops:         cctx.Int("ops"),
		KeySize:     cctx.Int("key-size"),
		ValueSize:   cctx.Int("value-size"),
		PutRatio:    cctx.Float64("put-ratio"),
		Seed:        cctx.Uint64("seed"),
		ReportEvery: cctx.Int("report-every"),
	}

	report, err := stress.Run(ctx, log, cfg, t...)
	if err != nil {
		return fmt.Errorf("stress run failed: %w", err)
	}

	for _, tr := range report.Targets {
		log.Info("target verified", "variant", tr.Name, "keys", tr.Keys, "height", tr.Height, "hits", tr.Hits)
	}

	fmt.Printf("all %d workers completed successfully in %v\n", report.Workers, report.Duration)
	return nil
}
