package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/monitor"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run one dispatch round and wait for the queued checks to finish",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		pool := monitor.NewPool(e.checker, poolConfig())
		dispatcher := monitor.NewDispatcher(e.store, pool, scheduleInterval())

		poolCtx, cancelPool := context.WithCancel(ctx)
		poolDone := make(chan error, 1)
		go func() { poolDone <- pool.Run(poolCtx) }()

		submitted, err := dispatcher.Dispatch(ctx, time.Now())
		if err != nil {
			cancelPool()
			<-poolDone
			return err
		}

		// Drain: wait until every submitted task settled.
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
	drain:
		for {
			select {
			case <-ctx.Done():
				zap.L().Warn("interrupted while draining")
				break drain
			case <-ticker.C:
				s := pool.Stats()
				if s.Completed+s.Failed >= int64(submitted) {
					break drain
				}
			}
		}
		cancelPool()
		<-poolDone

		s := pool.Stats()
		fmt.Printf("dispatched %d zones: %d completed, %d failed, %d retried\n",
			submitted, s.Completed, s.Failed, s.Retried)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}
