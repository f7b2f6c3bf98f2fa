package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romscraper/internal/artwork"
	"github.com/xxxsen/romscraper/internal/engine"
	"github.com/xxxsen/romscraper/internal/platform"
	"github.com/xxxsen/romscraper/internal/scanner"
)

// ScrapeCommand matches ROM folders against LaunchBox metadata and updates
// their gamelist.xml.
type ScrapeCommand struct {
	dir       string
	metadata  string
	noArtwork bool

	runID string
}

func NewScrapeCommand() *ScrapeCommand { return &ScrapeCommand{} }

func (c *ScrapeCommand) Name() string { return "scrape" }

func (c *ScrapeCommand) Desc() string {
	return "扫描 ROM 目录，匹配 LaunchBox 元数据并更新 gamelist.xml"
}

func (c *ScrapeCommand) Init(f *pflag.FlagSet) {
	f.StringVar(&c.dir, "dir", "", "ROM 根目录，或单个平台目录")
	f.StringVar(&c.metadata, "metadata", "", "Metadata.xml 路径，默认使用配置")
	f.BoolVar(&c.noArtwork, "no-artwork", false, "不下载图片")
}

func (c *ScrapeCommand) PreRun(ctx context.Context) error {
	if strings.TrimSpace(c.dir) == "" {
		return errors.New("scrape requires --dir")
	}
	info, err := os.Stat(c.dir)
	if err != nil {
		return fmt.Errorf("stat scrape dir %s: %w", c.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("scrape dir %s is not a directory", c.dir)
	}
	c.runID = uuid.NewString()
	logutil.GetLogger(ctx).Info("starting scrape",
		zap.String("run_id", c.runID),
		zap.String("dir", c.dir),
		zap.Bool("no_artwork", c.noArtwork),
	)
	return nil
}

func (c *ScrapeCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx).With(zap.String("run_id", c.runID))
	cfg := ConfigFromContext(ctx)

	db, err := loadDatabase(ctx, cfg, c.metadata)
	if err != nil {
		return err
	}

	opts := engine.RunOptions{Progress: newProgressSink(ctx, os.Stderr, c.runID)}
	var downloader *artwork.Downloader
	if cfg.Artwork.IsEnabled() && !c.noArtwork {
		downloader, err = newDownloader(ctx, cfg)
		if err != nil {
			return err
		}
		opts.Artwork = downloader
	}

	eng, err := newEngine(ctx, cfg, db, platform.NewResolver(cfg.Platforms, cfg.Extensions))
	if err != nil {
		return err
	}
	report, err := eng.Run(ctx, c.dir, opts)
	if downloader != nil {
		stats := downloader.Wait()
		logger.Info("artwork download finished",
			zap.Int64("submitted", stats.Submitted),
			zap.Int64("downloaded", stats.Downloaded),
			zap.Int64("existing", stats.Existing),
			zap.Int64("missing", stats.Missing),
			zap.Int64("failed", stats.Failed),
		)
	}
	if errors.Is(err, scanner.ErrNothingFound) {
		logger.Warn("no platform folders or game files found, nothing to do", zap.String("dir", c.dir))
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info("scrape summary",
		zap.Int("total_files", report.TotalFiles),
		zap.Int("platforms", len(report.Platforms)),
		zap.Int("skipped_folders", len(report.Skipped)),
		zap.Int("added", report.Added()),
		zap.Duration("cost", report.Cost),
	)
	if report.Cancelled {
		return fmt.Errorf("scrape cancelled: %w", context.Cause(ctx))
	}
	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d platform(s) finished with errors, first: %s: %w", len(failed), failed[0].Dir, failed[0].Err())
	}
	return nil
}

func (c *ScrapeCommand) PostRun(ctx context.Context) error {
	logutil.GetLogger(ctx).Info("scrape completed", zap.String("run_id", c.runID))
	return nil
}

func init() {
	RegisterRunner("scrape", func() IRunner { return NewScrapeCommand() })
}
