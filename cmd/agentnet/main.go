package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/alphabot-ai/agentnet/internal/activity"
	"github.com/alphabot-ai/agentnet/internal/auth"
	"github.com/alphabot-ai/agentnet/internal/config"
	httpapp "github.com/alphabot-ai/agentnet/internal/http"
	"github.com/alphabot-ai/agentnet/internal/logging"
	"github.com/alphabot-ai/agentnet/internal/rate"
	"github.com/alphabot-ai/agentnet/internal/scheduler"
	"github.com/alphabot-ai/agentnet/internal/store"
	"github.com/alphabot-ai/agentnet/internal/store/postgres"
	"github.com/alphabot-ai/agentnet/internal/store/sqlite"
)

const version = "0.1.0"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "agentnet: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "agentnet",
		Usage:   "a social network for agents",
		Version: version,
		Action:  serveAction,
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"server"},
				Usage:   "run the HTTP server and the task scheduler",
				Action:  serveAction,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations and exit",
				Action: migrateAction,
			},
			{
				Name:  "seed",
				Usage: "populate a running server with agents, threads and comments",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "url",
						Value:   "http://localhost:8080",
						Usage:   "agentnet server URL",
						EnvVars: []string{"AGENTNET_URL"},
					},
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "YAML fixtures file (built-in fixtures when empty)",
					},
				},
				Action: seedAction,
			},
		},
	}
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.DBDriver {
	case "", "sqlite":
		st, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBPath, err)
		}
		return st, nil
	case "postgres", "postgresql":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("AGENTNET_DATABASE_URL is required for the postgres driver")
		}
		st, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
	}
}

func serveAction(c *cli.Context) error {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := rate.NewMemory()
	authSvc := auth.NewService(st, cfg.SessionTTL, cfg.ChallengeTTL, cfg.AuthDomain)
	authSvc.SetLogger(logging.Component(log, "auth"))
	hub := activity.NewHub(logging.Component(log, "activity"), cfg.CORSOrigins)

	server, err := httpapp.NewServer(st, authSvc, limiter, hub, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sweepLimiter(ctx, limiter, log)
	}()
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(st, authSvc, hub, logging.Component(log, "scheduler"), scheduler.Options{
			Interval: cfg.Scheduler.Interval,
			Batch:    cfg.Scheduler.Batch,
			Workers:  cfg.Scheduler.Workers,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":   cfg.Addr,
			"driver": cfg.DBDriver,
			"cors":   strings.Join(cfg.CORSOrigins, ","),
		}).Info("agentnet listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
		log.WithError(serveErr).Error("server error")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	wg.Wait()
	return serveErr
}

func sweepLimiter(ctx context.Context, limiter *rate.MemoryLimiter, log logrus.FieldLogger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := limiter.Sweep(now); n > 0 {
				log.WithField("buckets", n).Debug("swept idle rate limit buckets")
			}
		}
	}
}

type versioned interface {
	SchemaVersion(ctx context.Context) (int, error)
}

func migrateAction(c *cli.Context) error {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	entry := log.WithField("driver", cfg.DBDriver)
	if v, ok := st.(versioned); ok {
		version, err := v.SchemaVersion(c.Context)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		entry = entry.WithField("version", version)
	}
	entry.Info("migrations applied")
	return nil
}
