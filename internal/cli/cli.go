package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romscraper/internal/app"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "romscraper",
	Short:         "Match ROM folders against LaunchBox metadata and maintain gamelist.xml",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger.Init(cfg.Log.File, cfg.Log.Level, cfg.Log.FileCount, cfg.Log.FileSize, cfg.Log.KeepDays, cfg.Log.WithConsole())
		ctx := commandContext(cmd)
		if path == "" {
			logutil.GetLogger(ctx).Debug("no config file found, using defaults")
		} else {
			logutil.GetLogger(ctx).Debug("config loaded", zap.String("path", path))
		}
		cmd.SetContext(app.WithConfig(ctx, cfg))
		return nil
	},
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logutil.GetLogger(ctx).Error("exec cmd failed", zap.Error(err))
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径，默认查找 ./config.json 与 /etc/romscraper.json")
	for _, r := range app.RunnerList() {
		runner := app.MustResolveRunner(r)
		subcmd := &cobra.Command{
			Use:   runner.Name(),
			Short: runner.Desc(),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStages(commandContext(cmd), runner)
			},
		}
		runner.Init(subcmd.Flags())
		rootCmd.AddCommand(subcmd)
	}
}
