package objectclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docsage-ai/docsage-backend/internal/core"
)

// LocalClient stores objects on the local filesystem under a root directory.
// Used when AWS credentials are not configured; the "bucket" becomes a
// subdirectory and the returned URL is the absolute path.
type LocalClient struct {
	root string
}

func NewLocalClient(root string) (core.ObjectClient, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalClient{root: abs}, nil
}

// path maps (bucket, key) to a file below root, refusing traversal out of it.
func (c *LocalClient) path(bucket, key string) (string, error) {
	p := filepath.Join(c.root, bucket, filepath.FromSlash(key))
	if !strings.HasPrefix(p, c.root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return p, nil
}

func (c *LocalClient) UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	p, err := c.path(bucket, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	return p, nil
}

func (c *LocalClient) DeleteFile(ctx context.Context, bucket, key string) error {
	p, err := c.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (c *LocalClient) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	p, err := c.path(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (c *LocalClient) GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	p, err := c.path(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}
