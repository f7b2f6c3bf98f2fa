package metasource

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romscraper/internal/storage"
)

// ErrUnavailable is wrapped by every error that leaves the run without a
// usable Metadata.xml.
var ErrUnavailable = errors.New("metadata source unavailable")

// EntryName is the archive member holding the LaunchBox database.
const EntryName = "Metadata.xml"

// Fetcher makes sure a local Metadata.xml exists.
type Fetcher struct {
	path   string
	url    string
	client *http.Client
	store  storage.Client
}

type Option func(*Fetcher)

// WithHTTPClient replaces the client used for http(s) urls.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithStorage sets the object store used for s3:// urls.
func WithStorage(c storage.Client) Option {
	return func(f *Fetcher) { f.store = c }
}

// WithTimeout bounds a single http download.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.client = &http.Client{Timeout: d} }
}

func New(localPath, sourceURL string, opts ...Option) *Fetcher {
	f := &Fetcher{
		path:   localPath,
		url:    sourceURL,
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path is the local Metadata.xml location.
func (f *Fetcher) Path() string { return f.path }

// Ensure returns the local Metadata.xml path, downloading it first when it
// does not exist yet.
func (f *Fetcher) Ensure(ctx context.Context) (string, error) {
	if info, err := os.Stat(f.path); err == nil && !info.IsDir() && info.Size() > 0 {
		logutil.GetLogger(ctx).Debug("use local metadata", zap.String("path", filepath.ToSlash(f.path)))
		return f.path, nil
	}
	if err := f.Fetch(ctx); err != nil {
		return "", err
	}
	return f.path, nil
}

// Fetch downloads the archive and replaces the local Metadata.xml.
func (f *Fetcher) Fetch(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	if strings.TrimSpace(f.url) == "" {
		return fmt.Errorf("%w: no metadata url configured", ErrUnavailable)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: ensure metadata dir %s: %w", ErrUnavailable, dir, err)
	}

	archive, err := os.CreateTemp(dir, ".Metadata.*.zip")
	if err != nil {
		return fmt.Errorf("%w: create temp archive: %w", ErrUnavailable, err)
	}
	archivePath := archive.Name()
	archive.Close()
	defer os.Remove(archivePath)

	logger.Info("downloading metadata archive", zap.String("url", f.url))
	start := time.Now()
	if err := f.download(ctx, archivePath); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if info, err := os.Stat(archivePath); err == nil {
		logger.Info("metadata archive downloaded",
			zap.String("size", humanize.Bytes(uint64(info.Size()))),
			zap.Duration("cost", time.Since(start)),
		)
	}

	written, err := extractEntry(archivePath, EntryName, f.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	logger.Info("metadata extracted",
		zap.String("path", filepath.ToSlash(f.path)),
		zap.String("size", humanize.Bytes(uint64(written))),
	)
	return nil
}

func (f *Fetcher) download(ctx context.Context, dest string) error {
	if storage.IsObjectURL(f.url) {
		if f.store == nil {
			return fmt.Errorf("no storage client for %s", f.url)
		}
		_, key, err := storage.ParseObjectURL(f.url)
		if err != nil {
			return err
		}
		return f.store.DownloadToFile(ctx, key, dest)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", f.url, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", f.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", f.url, resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("write archive %s: %w", dest, err)
	}
	return out.Close()
}

// extractEntry copies the archive member called name to dest through a
// temporary sibling file.
func extractEntry(archivePath, name, dest string) (int64, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	var entry *zip.File
	for _, file := range zr.File {
		if strings.EqualFold(path.Base(file.Name), name) && !file.FileInfo().IsDir() {
			entry = file
			break
		}
	}
	if entry == nil {
		return 0, fmt.Errorf("archive has no %s", name)
	}

	rc, err := entry.Open()
	if err != nil {
		return 0, fmt.Errorf("open %s in archive: %w", entry.Name, err)
	}
	defer rc.Close()

	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp metadata in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	written, err := io.Copy(tmp, rc)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("close metadata %s: %w", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("replace metadata %s: %w", dest, err)
	}
	return written, nil
}
