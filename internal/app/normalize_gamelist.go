package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romscraper/internal/gamelist"
)

// NormalizeGamelistCommand rewrites every gamelist.xml under a tree in the
// format the scraper writes.
type NormalizeGamelistCommand struct {
	dir     string
	replace bool
	dryRun  bool
}

// NormalizeStats counts what a normalize pass did.
type NormalizeStats struct {
	Found     int
	Written   int
	Unchanged int
	Invalid   int
}

func NewNormalizeGamelistCommand() *NormalizeGamelistCommand {
	return &NormalizeGamelistCommand{}
}

func (c *NormalizeGamelistCommand) Name() string { return "normalize-gamelist" }

func (c *NormalizeGamelistCommand) Desc() string {
	return "扫描并标准化 gamelist.xml 文件"
}

func (c *NormalizeGamelistCommand) Init(f *pflag.FlagSet) {
	f.StringVar(&c.dir, "dir", "", "ROM 根目录")
	f.BoolVar(&c.replace, "replace", false, "是否直接覆盖 gamelist.xml，默认写入 gamelist.xml.fix")
	f.BoolVar(&c.dryRun, "dryrun", false, "仅模拟执行，不写入任何文件")
}

func (c *NormalizeGamelistCommand) PreRun(ctx context.Context) error {
	if strings.TrimSpace(c.dir) == "" {
		return errors.New("normalize-gamelist requires --dir")
	}
	logutil.GetLogger(ctx).Info("starting normalize-gamelist",
		zap.String("dir", c.dir),
		zap.Bool("replace", c.replace),
		zap.Bool("dryrun", c.dryRun),
	)
	return nil
}

func (c *NormalizeGamelistCommand) Run(ctx context.Context) error {
	stats, err := normalizeTree(ctx, c.dir, c.replace, c.dryRun)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("normalize-gamelist completed",
		zap.Int("gamelist_found", stats.Found),
		zap.Int("gamelist_written", stats.Written),
		zap.Int("gamelist_unchanged", stats.Unchanged),
		zap.Int("gamelist_invalid", stats.Invalid),
		zap.Bool("dry_run", c.dryRun),
	)
	if stats.Invalid > 0 {
		return fmt.Errorf("%d gamelist file(s) could not be parsed", stats.Invalid)
	}
	return nil
}

func (c *NormalizeGamelistCommand) PostRun(ctx context.Context) error { return nil }

// normalizeTree walks dir. Unparseable catalogs are reported and left alone.
func normalizeTree(ctx context.Context, dir string, replace, dryRun bool) (NormalizeStats, error) {
	logger := logutil.GetLogger(ctx)
	var stats NormalizeStats

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(d.Name(), gamelist.DefaultFileName) {
			return nil
		}
		stats.Found++

		original, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read gamelist %s: %w", path, err)
		}
		doc, err := gamelist.Parse(bytes.NewReader(original))
		if err != nil {
			stats.Invalid++
			logger.Warn("skip invalid gamelist", zap.String("path", filepath.ToSlash(path)), zap.Error(err))
			return nil
		}
		normalized, err := doc.Bytes()
		if err != nil {
			return err
		}

		dest := path
		if !replace {
			dest = path + ".fix"
		}
		if replace && bytes.Equal(original, normalized) {
			stats.Unchanged++
			return nil
		}
		if dryRun {
			logger.Info("gamelist normalize (dryrun)", zap.String("src", filepath.ToSlash(path)), zap.String("dest", filepath.ToSlash(dest)))
			return nil
		}

		if err := doc.WriteFile(dest); err != nil {
			return err
		}
		stats.Written++
		logger.Info("gamelist normalized",
			zap.String("src", filepath.ToSlash(path)),
			zap.String("dest", filepath.ToSlash(dest)),
			zap.Int("games", doc.Len()),
		)
		return nil
	})
	return stats, err
}

func init() {
	RegisterRunner("normalize-gamelist", func() IRunner { return NewNormalizeGamelistCommand() })
}
