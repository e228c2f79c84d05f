package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/opqueue/pkg/opqueue"
)

func newDemoCmd(flags *rootFlags) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "submit-demo",
		Short: "Queue sample operations, drain them and print the statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if count <= 0 {
				return fmt.Errorf("--count must be greater than 0")
			}
			return demo(cmd.Context(), cfg, count, cmd.OutOrStdout().Write)
		},
	}
	cmd.Flags().IntVar(&count, "count", 20, "number of keys to write, read and delete")
	return cmd
}

func demo(ctx context.Context, cfg *opqueue.Config, count int, write func([]byte) (int, error)) error {
	cfg.Runner.Enabled = false
	client, err := opqueue.NewClient(ctx, cfg, opqueue.WithVersion(version))
	if err != nil {
		return err
	}
	defer client.Close()

	for i := 0; i < count; i++ {
		key := fmt.Sprintf("demo:%d", i)
		for _, kind := range []opqueue.OperationKind{
			opqueue.SetOp{Key: key, Value: fmt.Sprintf("value-%d", i)},
			opqueue.GetOp{Key: key},
			opqueue.DeleteOp{Key: key},
		} {
			if _, err := client.Submit(ctx, kind); err != nil {
				return fmt.Errorf("submit %s: %w", key, err)
			}
		}
	}

	for {
		result, err := client.ProcessBatch(ctx, cfg.Queue.MaxBatchSize)
		if err != nil {
			return err
		}
		slog.Info("batch processed",
			"processed", len(result.ProcessedOperationIDs),
			"remaining", result.QueueStateAfterProcessing.RemainingQueueDepth,
		)
		if len(result.ProcessedOperationIDs) == 0 || !result.QueueStateAfterProcessing.NextBatchAvailable {
			break
		}
	}

	stats, err := client.GetQueueStatistics(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	_, err = write(append(data, '\n'))
	return err
}
