package artwork

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/xxxsen/romscraper/internal/storage"
)

// maxAssetSize bounds a single image download.
const maxAssetSize = 32 << 20

// Source returns the bytes of an asset by its identifier.
type Source interface {
	Fetch(ctx context.Context, assetID string) ([]byte, error)
}

// HTTPSource fetches {baseURL}/{assetID}.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, assetID string) ([]byte, error) {
	segments := strings.Split(assetID, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	link := s.baseURL + "/" + strings.Join(segments, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", link, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", link, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("get %s: %w", link, ErrAssetNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get %s: unexpected status %d", link, resp.StatusCode)
	}
	return readLimited(resp.Body, link)
}

// StorageSource fetches assets from an object store mirror under prefix.
type StorageSource struct {
	client storage.Client
	prefix string
}

func NewStorageSource(client storage.Client, prefix string) *StorageSource {
	return &StorageSource{client: client, prefix: strings.Trim(prefix, "/")}
}

func (s *StorageSource) Fetch(ctx context.Context, assetID string) ([]byte, error) {
	key := path.Join(s.prefix, assetID)
	body, err := s.client.Open(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("open %s: %w", key, ErrAssetNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return readLimited(body, key)
}

func readLimited(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxAssetSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) > maxAssetSize {
		return nil, fmt.Errorf("read %s: asset larger than %d bytes", name, maxAssetSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("read %s: empty body", name)
	}
	return data, nil
}
