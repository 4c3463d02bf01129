package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/mr-automerge/internal/config"
	"github.com/hochfrequenz/mr-automerge/internal/metrics"
	"github.com/hochfrequenz/mr-automerge/internal/schedule"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Run the [[schedule]] batches of the config file until interrupted",
		Long: `watch runs one batch per [[schedule]] entry whenever its cron expression is
due. The config file is reloaded when it changes. If [metrics] listen is set,
Prometheus metrics are served on /metrics.`,
		RunE: runWatch,
	})
}

// watchState holds the config that scheduled batches read; it changes on reload
type watchState struct {
	mu  sync.RWMutex
	cfg *config.Config
}

func (s *watchState) get() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *watchState) set(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func runWatch(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	creds, err := config.LoadEnv()
	if err != nil {
		return err
	}

	path := config.ResolvePath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	sched, err := schedule.Load(path)
	if err != nil {
		return err
	}
	if len(sched.Schedules) == 0 {
		return errors.New("no [[schedule]] entries in " + path)
	}

	a, err := newApp(cfg, creds)
	if err != nil {
		return err
	}
	defer a.Close()
	a.metrics = metrics.NewRecorder(prometheus.NewRegistry())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler, err := schedule.NewScheduler(sched.Schedules, a.logger.With("schedule"))
	if err != nil {
		return err
	}

	state := &watchState{cfg: cfg}
	reloader, err := config.NewWatcher(path, func(p string) {
		reloaded, err := config.Load(p)
		if err != nil {
			a.logger.Error("reloading %s: %v", p, err)
			return
		}
		entries, err := schedule.Load(p)
		if err != nil {
			a.logger.Error("reloading schedules from %s: %v", p, err)
			return
		}
		if err := scheduler.Replace(entries.Schedules); err != nil {
			a.logger.Error("reloading schedules from %s: %v", p, err)
			return
		}
		state.set(reloaded)
		a.logger.Info("reloaded %s: %d schedule(s)", p, len(entries.Schedules))
	})
	if err != nil {
		return err
	}
	reloader.OnError(func(err error) { a.logger.Warn("watching %s: %v", path, err) })
	reloader.Start(ctx)
	defer reloader.Stop()

	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, a)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	for _, name := range scheduler.Names() {
		a.logger.Info("schedule %s: next run at %s", name, scheduler.NextRun(name).Format(time.RFC3339))
	}

	scheduler.Start(ctx, func(ctx context.Context, e schedule.Entry) error {
		current := state.get()
		r, err := a.runBatch(ctx, current, selection{
			repository: e.Repository,
			author:     e.Author,
			iids:       e.MergeRequests,
		})
		if err != nil {
			return err
		}
		a.finish(r)
		return nil
	})
	return nil
}

func serveMetrics(addr string, a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		a.logger.Info("serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server: %v", err)
		}
	}()
	return srv
}
