package artwork

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sony/gobreaker/v2"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrAssetNotFound is returned by a Source when the asset does not exist.
var ErrAssetNotFound = errors.New("artwork asset not found")

// Request asks for one asset to be stored at Dest.
type Request struct {
	AssetID     string
	Dest        string
	Role        Role
	Substituted bool
}

// Sink receives artwork requests from the merge engine. Submit must not
// block on the transfer itself.
type Sink interface {
	Submit(ctx context.Context, req Request) error
}

// Options tunes a Downloader.
type Options struct {
	Concurrency     int
	RatePerSecond   float64
	MarqueeMaxWidth int
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit breaker.
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

// Stats summarises the requests handled by a Downloader.
type Stats struct {
	Submitted  int64
	Downloaded int64
	Existing   int64
	Missing    int64
	Failed     int64
}

// Downloader stores artwork from a Source into platform folders.
type Downloader struct {
	source  Source
	opts    Options
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	group   errgroup.Group

	mu      sync.Mutex
	pending map[string]struct{}

	submitted  atomic.Int64
	downloaded atomic.Int64
	existing   atomic.Int64
	missing    atomic.Int64
	failed     atomic.Int64
}

func NewDownloader(source Source, opts Options) *Downloader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	d := &Downloader{
		source:  source,
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.Concurrency),
		pending: make(map[string]struct{}),
	}
	d.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "artwork",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAssetNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logutil.GetLogger(context.Background()).Warn("artwork source breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	d.group.SetLimit(opts.Concurrency)
	return d
}

// Submit schedules req. Destinations that already exist are skipped without
// touching the source. Submit blocks only while all workers are busy.
func (d *Downloader) Submit(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.submitted.Add(1)
	if _, err := os.Stat(req.Dest); err == nil {
		d.existing.Add(1)
		return nil
	}

	d.mu.Lock()
	if _, ok := d.pending[req.Dest]; ok {
		d.mu.Unlock()
		d.existing.Add(1)
		return nil
	}
	d.pending[req.Dest] = struct{}{}
	d.mu.Unlock()

	d.group.Go(func() error {
		defer func() {
			d.mu.Lock()
			delete(d.pending, req.Dest)
			d.mu.Unlock()
		}()
		d.download(ctx, req)
		return nil
	})
	return nil
}

// Wait blocks until every scheduled download finished and returns the totals.
func (d *Downloader) Wait() Stats {
	_ = d.group.Wait()
	return d.Stats()
}

// Stats returns the current totals.
func (d *Downloader) Stats() Stats {
	return Stats{
		Submitted:  d.submitted.Load(),
		Downloaded: d.downloaded.Load(),
		Existing:   d.existing.Load(),
		Missing:    d.missing.Load(),
		Failed:     d.failed.Load(),
	}
}

func (d *Downloader) download(ctx context.Context, req Request) {
	logger := logutil.GetLogger(ctx).With(
		zap.String("asset", req.AssetID),
		zap.String("role", string(req.Role)),
		zap.String("dest", filepath.ToSlash(req.Dest)),
	)
	if err := d.limiter.Wait(ctx); err != nil {
		d.failed.Add(1)
		logger.Debug("artwork download cancelled", zap.Error(err))
		return
	}
	data, err := d.breaker.Execute(func() ([]byte, error) {
		return d.source.Fetch(ctx, req.AssetID)
	})
	if errors.Is(err, ErrAssetNotFound) {
		d.missing.Add(1)
		logger.Warn("artwork asset not found on source")
		return
	}
	if err != nil {
		d.failed.Add(1)
		logger.Error("download artwork failed", zap.Error(err))
		return
	}

	if req.Role == RoleMarquee && d.opts.MarqueeMaxWidth > 0 {
		resized, changed, err := shrinkToWidth(data, d.opts.MarqueeMaxWidth)
		if err != nil {
			logger.Warn("resize marquee failed, keeping original", zap.Error(err))
		} else if changed {
			logger.Debug("marquee resized",
				zap.String("from", humanize.Bytes(uint64(len(data)))),
				zap.String("to", humanize.Bytes(uint64(len(resized)))),
			)
			data = resized
		}
	}

	if err := writeFileAtomic(req.Dest, data); err != nil {
		d.failed.Add(1)
		logger.Error("write artwork failed", zap.Error(err))
		return
	}
	d.downloaded.Add(1)
	logger.Info("artwork downloaded",
		zap.String("size", humanize.Bytes(uint64(len(data)))),
		zap.Bool("substituted", req.Substituted),
	)
}

func writeFileAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure artwork dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artwork in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write artwork %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close artwork %s: %w", dest, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod artwork %s: %w", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace artwork %s: %w", dest, err)
	}
	return nil
}
