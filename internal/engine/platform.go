package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romscraper/internal/artwork"
	"github.com/xxxsen/romscraper/internal/exclusion"
	"github.com/xxxsen/romscraper/internal/gamelist"
	"github.com/xxxsen/romscraper/internal/launchbox"
	"github.com/xxxsen/romscraper/internal/scanner"
)

// LockFileName is the advisory lock taken inside a platform folder.
const LockFileName = ".romscraper.lock"

// LoadState is how the catalog of a platform was loaded.
type LoadState string

const (
	StateFresh     LoadState = "fresh"
	StateExisting  LoadState = "existing"
	StateRecovered LoadState = "recovered"
)

// Outcome is how the processing of a platform ended.
type Outcome string

const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeWritten   Outcome = "written"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// PlatformResult summarises one platform folder.
type PlatformResult struct {
	Dir      string
	Key      string
	Platform string
	Load     LoadState
	Outcome  Outcome

	Files      int
	Processed  int
	Added      int
	Exact      int
	Fuzzy      int
	Duplicates int
	Excluded   int
	Unmatched  int

	ArtworkRequested int
	ArtworkMissing   int

	Catalog string
	Backup  string
	// Warnings holds recoverable problems such as a malformed catalog.
	Warnings []error
	Errors   []error
}

// Err joins the errors collected for the platform.
func (p PlatformResult) Err() error {
	return errors.Join(p.Errors...)
}

type run struct {
	engine   *Engine
	opts     RunOptions
	backedUp map[string]struct{}
}

func (r *run) processPlatform(ctx context.Context, c scanner.Collection) PlatformResult {
	logger := logutil.GetLogger(ctx).With(zap.String("platform", c.Platform), zap.String("dir", filepath.ToSlash(c.Dir)))
	res := PlatformResult{
		Dir:      c.Dir,
		Key:      c.Key,
		Platform: c.Platform,
		Files:    len(c.Files),
		Catalog:  filepath.Join(c.Dir, gamelist.DefaultFileName),
	}

	lock := flock.New(filepath.Join(c.Dir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Errors = append(res.Errors, fmt.Errorf("lock platform %s: %w", c.Dir, err))
		logger.Error("lock platform failed", zap.Error(err))
		return res
	}
	if !ok {
		res.Outcome = OutcomeFailed
		res.Errors = append(res.Errors, fmt.Errorf("lock platform %s: %w", c.Dir, ErrPlatformBusy))
		logger.Error("platform is busy, skip")
		return res
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("release platform lock failed", zap.Error(err))
		}
	}()

	doc, state, err := loadCatalog(res.Catalog)
	res.Load = state
	switch state {
	case StateRecovered:
		res.Warnings = append(res.Warnings, err)
		logger.Warn("catalog unreadable, start from empty document; original file is kept until the next write",
			zap.String("catalog", filepath.ToSlash(res.Catalog)), zap.Error(err))
	case StateFresh:
		logger.Info("no catalog yet, creating new one", zap.String("catalog", filepath.ToSlash(res.Catalog)))
	default:
		logger.Debug("catalog loaded", zap.Int("games", doc.Len()))
	}

	ledger, err := exclusion.Load(filepath.Join(c.Dir, exclusion.DefaultFileName))
	if err != nil {
		res.Warnings = append(res.Warnings, err)
		logger.Warn("read exclusion ledger failed, treat as empty", zap.Error(err))
	} else {
		logger.Debug("exclusion ledger loaded",
			zap.String("path", filepath.ToSlash(ledger.Path())), zap.Int("entries", ledger.Len()))
	}

	m := r.engine.NewMatcher(c.Platform)
	logger.Debug("matcher ready", zap.Int("candidates", m.Len()))
	existing := doc.Paths()
	var pending []artwork.Request

	for i, file := range c.Files {
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			logger.Warn("platform interrupted, catalog not written",
				zap.Int("processed", res.Processed), zap.Int("total", res.Files))
			return res
		}
		r.opts.Progress.FileProcessed(c, file, i+1, len(c.Files))
		res.Processed++

		if ledger.Contains(file.Name) {
			res.Excluded++
			logger.Debug("skip excluded file", zap.String("file", file.Name))
			continue
		}
		rel := RelativePath(file)
		if _, ok := existing[rel]; ok {
			res.Duplicates++
			continue
		}

		match, ok := r.engine.Find(m, c.Platform, file.Stem)
		if !ok {
			res.Unmatched++
			logger.Info("no metadata match, add to exclusion ledger",
				zap.String("file", file.Name), zap.String("candidate", match.Candidate))
			if err := ledger.Append(file.Name); err != nil {
				res.Errors = append(res.Errors, err)
				logger.Error("append exclusion ledger failed", zap.String("file", file.Name), zap.Error(err))
			}
			continue
		}

		doc.AppendGame(BuildRecord(file, match.Game))
		existing[rel] = struct{}{}
		res.Added++
		if match.Exact {
			res.Exact++
		} else {
			res.Fuzzy++
		}
		logger.Info("game matched",
			zap.String("file", file.Name),
			zap.String("name", match.Game.Name),
			zap.Float64("score", match.Score),
			zap.Bool("exact", match.Exact),
		)
		pending = append(pending, r.artworkRequests(ctx, c, file, match.Game, &res)...)
	}

	if res.Added == 0 {
		res.Outcome = OutcomeUnchanged
		logger.Info("platform unchanged", zap.Int("files", res.Files))
		return res
	}

	backup, err := r.backup(res.Catalog)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Errors = append(res.Errors, err)
		logger.Error("backup catalog failed, catalog not written", zap.Error(err))
		return res
	}
	res.Backup = backup
	if err := doc.WriteFile(res.Catalog); err != nil {
		res.Outcome = OutcomeFailed
		res.Errors = append(res.Errors, err)
		logger.Error("write catalog failed", zap.Error(err))
		return res
	}
	res.Outcome = OutcomeWritten
	logger.Info("catalog updated", zap.Int("added", res.Added), zap.Int("games", doc.Len()))

	r.submitArtwork(ctx, pending)
	return res
}

func (r *run) artworkRequests(ctx context.Context, c scanner.Collection, file scanner.GameFile, game launchbox.Game, res *PlatformResult) []artwork.Request {
	if r.opts.Artwork == nil {
		return nil
	}
	resolved := r.engine.artwork.Resolve(game)
	if len(resolved.Missing) > 0 {
		missing := make([]string, 0, len(resolved.Missing))
		for _, role := range resolved.Missing {
			missing = append(missing, string(role))
		}
		res.ArtworkMissing += len(resolved.Missing)
		logutil.GetLogger(ctx).Info("artwork role unavailable",
			zap.String("file", file.Name), zap.Strings("roles", missing))
	}
	out := make([]artwork.Request, 0, len(resolved.Assets))
	for _, asset := range resolved.Assets {
		out = append(out, artwork.Request{
			AssetID:     asset.AssetID,
			Dest:        artwork.DestPath(c.Dir, file.Stem, asset.Role),
			Role:        asset.Role,
			Substituted: asset.Substituted,
		})
	}
	res.ArtworkRequested += len(out)
	return out
}

func (r *run) submitArtwork(ctx context.Context, reqs []artwork.Request) {
	if r.opts.Artwork == nil {
		return
	}
	for _, req := range reqs {
		if err := r.opts.Artwork.Submit(ctx, req); err != nil {
			logutil.GetLogger(ctx).Warn("submit artwork failed", zap.String("asset", req.AssetID), zap.Error(err))
			return
		}
	}
}

// backup copies the on-disk catalog to its .bak sibling once per run,
// keeping mode and modification time. It returns "" when there is nothing
// to back up.
func (r *run) backup(catalog string) (string, error) {
	if _, done := r.backedUp[catalog]; done {
		return "", nil
	}
	info, err := os.Stat(catalog)
	if errors.Is(err, os.ErrNotExist) {
		r.backedUp[catalog] = struct{}{}
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat catalog %s: %w", catalog, err)
	}
	dest := catalog + gamelist.BackupSuffix
	if err := copyFile(catalog, dest, info); err != nil {
		return "", err
	}
	r.backedUp[catalog] = struct{}{}
	return dest, nil
}

func copyFile(src, dest string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open catalog %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create backup %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("write backup %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close backup %s: %w", dest, err)
	}
	if err := os.Chmod(dest, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod backup %s: %w", dest, err)
	}
	if err := os.Chtimes(dest, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("chtimes backup %s: %w", dest, err)
	}
	return nil
}

func loadCatalog(path string) (*gamelist.Document, LoadState, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return gamelist.New(), StateFresh, nil
	}
	doc, err := gamelist.ParseFile(path)
	if err != nil {
		return gamelist.New(), StateRecovered, err
	}
	return doc, StateExisting, nil
}
