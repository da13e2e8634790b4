package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/evaluate"
)

var ndviCmd = &cobra.Command{
	Use:   "ndvi",
	Short: "Manage zone NDVI timeseries",
}

var (
	ndviRefreshMonths int
	ndviRefreshStep   int
)

var ndviRefreshCmd = &cobra.Command{
	Use:   "refresh <zone-id>",
	Short: "Recompute a zone's NDVI series from the imagery provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		zone, err := e.store.GetZone(ctx, args[0])
		if err != nil {
			return err
		}

		end := time.Now().UTC()
		start := end.AddDate(0, -ndviRefreshMonths, 0)
		step := time.Duration(ndviRefreshStep) * 24 * time.Hour

		points, err := e.provider.QueryTimeseries(ctx, zone.Geometry, start, end, step)
		if err != nil {
			return err
		}
		for i := range points {
			points[i].ZoneID = zone.ID
		}

		if err := e.store.ReplaceNDVISeries(ctx, zone.ID, points); err != nil {
			return err
		}

		zap.L().Info("ndvi series refreshed",
			zap.String("zone_id", zone.ID),
			zap.Int("points", len(points)),
		)
		fmt.Printf("refreshed %d NDVI points for zone %s\n", len(points), zone.ID)
		return nil
	},
}

var ndviTrendCmd = &cobra.Command{
	Use:   "trend <zone-id>",
	Short: "Show the trend and statistics of a zone's stored NDVI series",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		points, err := e.store.ListNDVISeries(ctx, args[0])
		if err != nil {
			return err
		}

		trend := evaluate.Trend(points)
		fmt.Printf("trend: %s (%s)\n", trend.Trend, trend.Description)
		if stats, ok := evaluate.Summarize(points); ok {
			fmt.Printf("points: %d  min: %.3f  max: %.3f  mean: %.3f  current: %.3f\n",
				len(points), stats.Min, stats.Max, stats.Mean, stats.Current)
		}
		return nil
	},
}

func init() {
	ndviRefreshCmd.Flags().IntVar(&ndviRefreshMonths, "months", 12, "how many months back to query")
	ndviRefreshCmd.Flags().IntVar(&ndviRefreshStep, "step-days", 30, "sampling step in days")

	ndviCmd.AddCommand(ndviRefreshCmd, ndviTrendCmd)
	rootCmd.AddCommand(ndviCmd)
}
