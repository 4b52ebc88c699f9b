package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps blobs on the local filesystem. Files are served by the
// HTTP layer under PublicPrefix.
type LocalStore struct {
	basePath     string
	publicPrefix string
	maxSize      int64
}

// LocalConfig holds configuration for local storage
type LocalConfig struct {
	BasePath     string
	PublicPrefix string
	MaxSize      int64
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates the base directory if needed
func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}
	absPath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	prefix := strings.TrimRight(cfg.PublicPrefix, "/")
	if prefix == "" {
		prefix = "/uploads"
	}
	return &LocalStore{basePath: absPath, publicPrefix: prefix, maxSize: cfg.MaxSize}, nil
}

// BasePath is the directory to serve statically
func (s *LocalStore) BasePath() string {
	return s.basePath
}

func (s *LocalStore) fullPath(ref string) (string, error) {
	clean, err := CleanRef(ref)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}

// Put writes to a temp file and renames it into place
func (s *LocalStore) Put(ctx context.Context, prefix string, r io.Reader, size int64, contentType string) (string, error) {
	ext := ""
	if sn, ok := r.(*Sniffed); ok {
		ext = sn.Extension
	}
	ref := NewKey(prefix, ext)

	p, err := s.fullPath(ref)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(tmpFile, contextReader{ctx: ctx, r: src})
	if err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to write content: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if s.maxSize > 0 && n > s.maxSize {
		return "", ErrTooLarge
	}

	if err := os.Rename(tmpPath, p); err != nil {
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return ref, nil
}

// Resolve returns the public path of ref
func (s *LocalStore) Resolve(_ context.Context, ref string) (string, error) {
	clean, err := CleanRef(ref)
	if err != nil {
		return "", err
	}
	return s.publicPrefix + "/" + clean, nil
}

// Delete removes the file; a missing file is not an error
func (s *LocalStore) Delete(_ context.Context, ref string) error {
	p, err := s.fullPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Open reads a stored blob
func (s *LocalStore) Open(ref string) (io.ReadCloser, error) {
	p, err := s.fullPath(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
