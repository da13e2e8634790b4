package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/monitor"
	"github.com/geowatch/geowatch/internal/notify"
	"github.com/geowatch/geowatch/internal/provider"
	"github.com/geowatch/geowatch/internal/store"
)

// env bundles the wired service dependencies for a command invocation.
type env struct {
	store    store.Store
	provider provider.Provider
	notifier notify.Notifier
	checker  *monitor.Checker
}

// initEnv opens the store and builds the provider, notifier, and checker
// from config.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	p := provider.NewHTTPProvider(provider.HTTPOptions{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         cfg.Provider.APIKey,
		Collection:     cfg.Provider.Collection,
		Timeout:        time.Duration(cfg.Provider.TimeoutSecs) * time.Second,
		RequestsPerSec: cfg.Provider.RequestsPerSec,
		MaxRetries:     cfg.Provider.MaxRetries,
		InitialBackoff: time.Duration(cfg.Provider.BackoffMs) * time.Millisecond,
	})

	var n notify.Notifier
	if cfg.Notify.GatewayURL != "" {
		n = notify.NewEmailNotifier(notify.EmailOptions{
			GatewayURL:   cfg.Notify.GatewayURL,
			APIKey:       cfg.Notify.APIKey,
			SenderEmail:  cfg.Notify.SenderEmail,
			DashboardURL: cfg.Notify.DashboardURL,
			Timeout:      time.Duration(cfg.Notify.TimeoutSecs) * time.Second,
		})
	} else {
		zap.L().Warn("no notify gateway configured, alerts will be dropped")
		n = notify.Noop{}
	}

	checker := monitor.NewChecker(st, p, n,
		provider.DateRange{Start: cfg.Provider.BaselineStart, End: cfg.Provider.BaselineEnd},
		provider.DateRange{Start: cfg.Provider.RecentStart, End: cfg.Provider.RecentEnd},
	)

	return &env{store: st, provider: p, notifier: n, checker: checker}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres", "":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		zap.L().Warn("closing store", zap.Error(err))
	}
}

// poolConfig maps monitor settings from config onto the worker pool.
func poolConfig() monitor.PoolConfig {
	pc := monitor.DefaultPoolConfig()
	if cfg.Monitor.Workers > 0 {
		pc.Workers = cfg.Monitor.Workers
	}
	if cfg.Monitor.QueueDepth > 0 {
		pc.QueueDepth = cfg.Monitor.QueueDepth
	}
	if cfg.Monitor.MaxAttempts > 0 {
		pc.MaxAttempts = cfg.Monitor.MaxAttempts
	}
	if cfg.Monitor.RetryBackoffSecs > 0 {
		pc.RetryBackoff = time.Duration(cfg.Monitor.RetryBackoffSecs) * time.Second
	}
	if cfg.Monitor.SoftTimeoutSecs > 0 {
		pc.SoftTimeout = time.Duration(cfg.Monitor.SoftTimeoutSecs) * time.Second
	}
	if cfg.Monitor.HardTimeoutSecs > 0 {
		pc.HardTimeout = time.Duration(cfg.Monitor.HardTimeoutSecs) * time.Second
	}
	return pc
}

func scheduleInterval() time.Duration {
	if cfg.Monitor.ScheduleIntervalMins > 0 {
		return time.Duration(cfg.Monitor.ScheduleIntervalMins) * time.Minute
	}
	return 6 * time.Hour
}
