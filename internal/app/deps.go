package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romscraper/internal/artwork"
	"github.com/xxxsen/romscraper/internal/config"
	"github.com/xxxsen/romscraper/internal/dat"
	"github.com/xxxsen/romscraper/internal/engine"
	"github.com/xxxsen/romscraper/internal/launchbox"
	"github.com/xxxsen/romscraper/internal/metasource"
	"github.com/xxxsen/romscraper/internal/platform"
	"github.com/xxxsen/romscraper/internal/storage"
)

func newMetadataFetcher(ctx context.Context, cfg *config.Config, localPath string) (*metasource.Fetcher, error) {
	if strings.TrimSpace(localPath) == "" {
		localPath = cfg.Metadata.Path
	}
	opts := []metasource.Option{metasource.WithTimeout(time.Duration(cfg.Metadata.Timeout) * time.Second)}
	if storage.IsObjectURL(cfg.Metadata.URL) {
		bucket, _, err := storage.ParseObjectURL(cfg.Metadata.URL)
		if err != nil {
			return nil, fmt.Errorf("parse metadata url: %w", err)
		}
		store, err := storage.NewS3Client(ctx, cfg.S3, bucket)
		if err != nil {
			return nil, err
		}
		opts = append(opts, metasource.WithStorage(store))
	}
	return metasource.New(localPath, cfg.Metadata.URL, opts...), nil
}

// loadDatabase makes sure Metadata.xml exists and parses it.
func loadDatabase(ctx context.Context, cfg *config.Config, localPath string) (*launchbox.Database, error) {
	logger := logutil.GetLogger(ctx)
	fetcher, err := newMetadataFetcher(ctx, cfg, localPath)
	if err != nil {
		return nil, err
	}
	path, err := fetcher.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	db, err := launchbox.NewParser().ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("load metadata %s: %w", path, err)
	}
	logger.Info("metadata loaded",
		zap.String("path", path),
		zap.Int("games", db.GameCount()),
		zap.Int("images", db.ImageCount()),
		zap.Int("platforms", len(db.Platforms())),
		zap.Duration("cost", time.Since(start)),
	)
	return db, nil
}

// newEngine builds the merge engine, loading arcade DAT aliases when
// configured.
func newEngine(ctx context.Context, cfg *config.Config, db *launchbox.Database, resolver *platform.Resolver) (*engine.Engine, error) {
	opts := []engine.Option{engine.WithThreshold(cfg.MatchThreshold)}
	if len(cfg.ArcadeDats) > 0 {
		start := time.Now()
		aliases, err := dat.LoadAliases(cfg.ArcadeDats...)
		if err != nil {
			return nil, fmt.Errorf("load arcade dats: %w", err)
		}
		logutil.GetLogger(ctx).Info("arcade dats loaded",
			zap.Strings("files", cfg.ArcadeDats),
			zap.Int("sets", aliases.Len()),
			zap.Duration("cost", time.Since(start)),
		)
		opts = append(opts, engine.WithArcadeAliases(aliases))
	}
	return engine.New(db, resolver, opts...), nil
}

func newArtworkSource(ctx context.Context, cfg *config.Config) (artwork.Source, error) {
	mirror := strings.TrimSpace(cfg.Artwork.Mirror)
	if mirror == "" {
		return artwork.NewHTTPSource(cfg.Artwork.BaseURL, time.Duration(cfg.Artwork.Timeout)*time.Second), nil
	}
	bucket, prefix, err := parseMirror(mirror)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewS3Client(ctx, cfg.S3, bucket)
	if err != nil {
		return nil, err
	}
	return artwork.NewStorageSource(store, prefix), nil
}

// parseMirror accepts s3://bucket and s3://bucket/prefix.
func parseMirror(mirror string) (string, string, error) {
	trimmed := strings.TrimPrefix(mirror, "s3://")
	if trimmed == mirror {
		return "", "", fmt.Errorf("invalid artwork mirror %s", mirror)
	}
	bucket, prefix, _ := strings.Cut(trimmed, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid artwork mirror %s", mirror)
	}
	return bucket, prefix, nil
}

func newDownloader(ctx context.Context, cfg *config.Config) (*artwork.Downloader, error) {
	source, err := newArtworkSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return artwork.NewDownloader(source, artwork.Options{
		Concurrency:     cfg.Artwork.Concurrency,
		RatePerSecond:   cfg.Artwork.RatePerSecond,
		MarqueeMaxWidth: cfg.Artwork.MarqueeMaxWidth,
	}), nil
}
