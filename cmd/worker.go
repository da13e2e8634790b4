package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geowatch/geowatch/internal/monitor"
)

var workerPort int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the monitoring worker: scheduler, dispatcher, and check pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		pool := monitor.NewPool(e.checker, poolConfig())
		interval := scheduleInterval()
		dispatcher := monitor.NewDispatcher(e.store, pool, interval)
		scheduler := monitor.NewScheduler(dispatcher, interval)

		port := workerPort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newAPIHandler(e.store, pool.Stats),
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return pool.Run(gctx)
		})
		g.Go(func() error {
			err := scheduler.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			zap.L().Info("status server listening", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "status server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		zap.L().Info("worker started",
			zap.Duration("schedule_interval", interval),
			zap.Int("workers", poolConfig().Workers),
		)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerPort, "port", 0, "status server port (default from config)")
	rootCmd.AddCommand(workerCmd)
}
