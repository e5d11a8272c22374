// Package blob stores avatar images. A stored blob is addressed by a reference
// URI that is recorded on the owning profile.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrForeignRef signals a reference that belongs to another store.
	ErrForeignRef = errors.New("blob: reference not owned by this store")
	// ErrUnsupportedType signals a content type that is not accepted.
	ErrUnsupportedType = errors.New("blob: unsupported content type")
)

// Store puts and deletes blobs.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, ref string) error
}

// Config selects and configures a store.
type Config struct {
	Type      string
	BasePath  string
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// New builds the configured store.
func New(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "local":
		return NewLocalStore(cfg.BasePath)
	case "s3":
		return NewS3Store(cfg)
	default:
		return nil, fmt.Errorf("blob: unsupported store type %q", cfg.Type)
	}
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Extension returns the file extension for an accepted image content type.
func Extension(contentType string) (string, error) {
	ext, ok := extensions[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	return ext, nil
}
