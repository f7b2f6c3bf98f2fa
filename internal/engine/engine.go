package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romscraper/internal/artwork"
	"github.com/xxxsen/romscraper/internal/launchbox"
	"github.com/xxxsen/romscraper/internal/matcher"
	"github.com/xxxsen/romscraper/internal/platform"
	"github.com/xxxsen/romscraper/internal/scanner"
)

// ErrPlatformBusy is reported when another run holds a platform folder.
var ErrPlatformBusy = errors.New("platform folder is locked by another run")

// Progress receives per-file and per-platform notifications.
type Progress interface {
	PlatformStarted(c scanner.Collection)
	FileProcessed(c scanner.Collection, file scanner.GameFile, done, total int)
	PlatformFinished(res PlatformResult)
}

type nopProgress struct{}

func (nopProgress) PlatformStarted(scanner.Collection)                            {}
func (nopProgress) FileProcessed(scanner.Collection, scanner.GameFile, int, int) {}
func (nopProgress) PlatformFinished(PlatformResult)                               {}

// RunOptions carries everything a run needs besides the engine itself. Both
// fields are optional.
type RunOptions struct {
	Progress Progress
	Artwork  artwork.Sink
}

// Report is the outcome of a run.
type Report struct {
	Root       string
	Single     bool
	TotalFiles int
	Platforms  []PlatformResult
	Skipped    []scanner.Skip
	Cancelled  bool
	Cost       time.Duration
}

// Added sums the records appended across platforms.
func (r *Report) Added() int {
	total := 0
	for _, p := range r.Platforms {
		total += p.Added
	}
	return total
}

// Failed lists platforms that ended with an error.
func (r *Report) Failed() []PlatformResult {
	var out []PlatformResult
	for _, p := range r.Platforms {
		if len(p.Errors) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// Engine merges LaunchBox metadata into per-platform catalogs. It keeps no
// state between runs.
type Engine struct {
	db        *launchbox.Database
	resolver  *platform.Resolver
	artwork   *artwork.Resolver
	threshold float64
	scorer    matcher.Scorer
	aliases   Aliases
}

// ArcadeLabel is the platform whose files are named after arcade ROM sets.
const ArcadeLabel = "Arcade"

// Aliases resolves a short ROM set name to a descriptive title.
type Aliases interface {
	Lookup(stem string) (string, bool)
}

type Option func(*Engine)

// WithScorer replaces the similarity function used for fuzzy matches.
func WithScorer(s matcher.Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithThreshold replaces the fuzzy acceptance threshold.
func WithThreshold(th float64) Option {
	return func(e *Engine) { e.threshold = th }
}

// WithArcadeAliases makes arcade files try the title of their ROM set before
// the bare file stem.
func WithArcadeAliases(a Aliases) Option {
	return func(e *Engine) { e.aliases = a }
}

func New(db *launchbox.Database, resolver *platform.Resolver, opts ...Option) *Engine {
	e := &Engine{
		db:        db,
		resolver:  resolver,
		artwork:   artwork.NewResolver(db, nil),
		threshold: matcher.DefaultThreshold,
		scorer:    matcher.Ratio,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewMatcher builds the matcher for a platform label.
func (e *Engine) NewMatcher(label string) *matcher.Matcher {
	m := matcher.New(e.db.Games(label))
	m.Threshold = e.threshold
	m.Scorer = e.scorer
	return m
}

// Find matches a file stem for a platform label. Arcade stems with a known
// ROM set title are matched on that title first.
func (e *Engine) Find(m *matcher.Matcher, label, stem string) (matcher.Match, bool) {
	if e.aliases != nil && label == ArcadeLabel {
		if title, ok := e.aliases.Lookup(stem); ok {
			if match, found := m.Find(title); found {
				return match, true
			}
		}
	}
	return m.Find(stem)
}

// Run classifies root and merges every platform collection found. A root
// without platform folders returns scanner.ErrNothingFound together with a
// report listing the skipped folders. Per-platform failures are kept in the
// report and never abort the run.
func (e *Engine) Run(ctx context.Context, root string, opts RunOptions) (*Report, error) {
	logger := logutil.GetLogger(ctx)
	start := time.Now()
	if opts.Progress == nil {
		opts.Progress = nopProgress{}
	}

	res, err := scanner.Classify(root, e.resolver)
	if err != nil && !errors.Is(err, scanner.ErrNothingFound) {
		return nil, fmt.Errorf("classify %s: %w", root, err)
	}
	report := &Report{Root: root}
	if res != nil {
		report.Single = res.Single
		report.Skipped = res.Skipped
		report.TotalFiles = res.TotalFiles()
	}
	for _, skip := range report.Skipped {
		logger.Warn("skip folder", zap.String("dir", skip.Dir), zap.String("reason", skip.Reason))
	}
	if err != nil {
		logger.Info("no platform folder found", zap.String("root", root), zap.Strings("known_folders", e.resolver.Keys()))
		return report, err
	}
	logger.Info("scan classified",
		zap.String("root", root),
		zap.Bool("single", report.Single),
		zap.Int("platforms", len(res.Collections)),
		zap.Int("total_files", report.TotalFiles),
	)

	r := &run{engine: e, opts: opts, backedUp: make(map[string]struct{})}
	for _, c := range res.Collections {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		opts.Progress.PlatformStarted(c)
		pr := r.processPlatform(ctx, c)
		opts.Progress.PlatformFinished(pr)
		report.Platforms = append(report.Platforms, pr)
		if pr.Outcome == OutcomeCancelled {
			report.Cancelled = true
			break
		}
	}
	report.Cost = time.Since(start)

	logger.Info("scan finished",
		zap.Int("platforms", len(report.Platforms)),
		zap.Int("added", report.Added()),
		zap.Int("failed_platforms", len(report.Failed())),
		zap.Bool("cancelled", report.Cancelled),
		zap.Duration("cost", report.Cost),
	)
	return report, nil
}
