package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romscraper/internal/app"
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// runStages drives a runner through PreRun, Run and PostRun. PostRun is
// skipped when an earlier stage fails.
func runStages(ctx context.Context, runner app.IRunner) error {
	start := time.Now()
	if err := runner.PreRun(ctx); err != nil {
		return err
	}
	if err := runner.Run(ctx); err != nil {
		logutil.GetLogger(ctx).Debug("command failed",
			zap.String("command", runner.Name()),
			zap.Duration("cost", time.Since(start)),
		)
		return err
	}
	if err := runner.PostRun(ctx); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Debug("command finished",
		zap.String("command", runner.Name()),
		zap.Duration("cost", time.Since(start)),
	)
	return nil
}
