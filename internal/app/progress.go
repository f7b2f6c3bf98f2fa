package app

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romscraper/internal/engine"
	"github.com/xxxsen/romscraper/internal/scanner"
)

// progressSink draws a bar per platform on a terminal and falls back to log
// lines otherwise.
type progressSink struct {
	ctx   context.Context
	out   io.Writer
	tty   bool
	runID string
	bar   *progressbar.ProgressBar
}

func newProgressSink(ctx context.Context, f *os.File, runID string) *progressSink {
	fd := f.Fd()
	return &progressSink{
		ctx:   ctx,
		out:   f,
		tty:   isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
		runID: runID,
	}
}

func (p *progressSink) PlatformStarted(c scanner.Collection) {
	logutil.GetLogger(p.ctx).Info("processing platform",
		zap.String("run_id", p.runID),
		zap.String("platform", c.Platform),
		zap.String("dir", c.Dir),
		zap.Int("files", len(c.Files)),
	)
	if !p.tty {
		return
	}
	p.bar = progressbar.NewOptions(len(c.Files),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription(c.Key),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func (p *progressSink) FileProcessed(c scanner.Collection, file scanner.GameFile, done, total int) {
	if p.bar != nil {
		_ = p.bar.Set(done)
		return
	}
	logutil.GetLogger(p.ctx).Debug("processing file",
		zap.String("platform", c.Key),
		zap.String("file", file.Name),
		zap.Int("done", done),
		zap.Int("total", total),
	)
}

func (p *progressSink) PlatformFinished(res engine.PlatformResult) {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
	fields := []zap.Field{
		zap.String("run_id", p.runID),
		zap.String("platform", res.Platform),
		zap.String("load", string(res.Load)),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("processed", res.Processed),
		zap.Int("total", res.Files),
		zap.Int("added", res.Added),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("excluded", res.Excluded),
		zap.Int("unmatched", res.Unmatched),
	}
	if err := res.Err(); err != nil {
		logutil.GetLogger(p.ctx).Error("platform finished with errors", append(fields, zap.Error(err))...)
		return
	}
	logutil.GetLogger(p.ctx).Info("platform finished", fields...)
}
