package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var checkCmd = &cobra.Command{
	Use:   "check <zone-id>",
	Short: "Run one change-detection check for a zone immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		epoch := time.Now().UTC().Truncate(scheduleInterval())
		outcome, err := e.checker.Check(ctx, args[0], epoch)
		if err != nil {
			zap.L().Error("check failed",
				zap.String("zone_id", args[0]),
				zap.String("outcome", string(outcome)),
				zap.Error(err),
			)
			return err
		}

		fmt.Printf("zone %s: %s\n", args[0], outcome)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
