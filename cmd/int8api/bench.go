package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/go-int8api/internal/bench"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var (
		runs      int
		format    string
		threshold time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark single-image inference latency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			s, err := openSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.engine.Close()

			results := make([]bench.RunResult, 0, runs)
			for i := range runs {
				start := time.Now()
				if _, err := s.engine.Infer(ctx, s.activations); err != nil {
					return fmt.Errorf("run %d: %w", i+1, err)
				}
				results = append(results, bench.RunResult{Index: i, Cold: i == 0, Duration: time.Since(start)})
			}

			stats := bench.ComputeStats(bench.Warm(results))

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				bench.FormatJSON(results, stats, out)
			default:
				bench.FormatTable(results, stats, out)
			}

			slog.Info("bench finished",
				"runs", runs,
				"precision", s.engine.Precision(),
				"mean", stats.Mean,
			)

			return bench.CheckLatencyThreshold(stats.Mean, threshold)
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 10, "Number of inferences; the first is reported as cold")
	cmd.Flags().StringVar(&format, "format", "table", "Output format (table|json)")
	cmd.Flags().DurationVar(&threshold, "max-mean-latency", 0, "Fail when mean warm latency exceeds this duration (0 disables)")

	return cmd
}
