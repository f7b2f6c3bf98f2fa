package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Client abstracts the subset of S3 operations the scraper needs.
type Client interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	DownloadToFile(ctx context.Context, key, destPath string) error
}

// ParseObjectURL splits s3://bucket/key into its bucket and key.
func ParseObjectURL(raw string) (string, string, error) {
	if raw == "" {
		return "", "", fmt.Errorf("empty s3 path")
	}
	if !IsObjectURL(raw) {
		return "", "", fmt.Errorf("invalid s3 path %s", raw)
	}
	trimmed := strings.TrimPrefix(raw, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid s3 path %s", raw)
	}
	return parts[0], parts[1], nil
}

// IsObjectURL reports whether raw uses the s3:// scheme.
func IsObjectURL(raw string) bool {
	return strings.HasPrefix(raw, "s3://")
}
