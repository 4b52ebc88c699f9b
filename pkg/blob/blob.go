// Package blob stores uploaded avatars and message media and turns stored
// references back into fetchable URLs.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("blob not found")
	ErrInvalidRef      = errors.New("invalid blob reference")
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrTooLarge        = errors.New("upload exceeds size limit")
)

// Store persists opaque blobs. A ref returned by Put is stable and can be
// stored in rows; Resolve maps it to a URL a client can fetch.
type Store interface {
	Put(ctx context.Context, prefix string, r io.Reader, size int64, contentType string) (string, error)
	Resolve(ctx context.Context, ref string) (string, error)
	Delete(ctx context.Context, ref string) error
}

// Well-known key prefixes
const (
	PrefixAvatars = "avatars"
	PrefixMedia   = "media"
)

// NewKey returns prefix/<uuid><ext>
func NewKey(prefix, ext string) string {
	name := uuid.NewString() + ext
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// CleanRef rejects refs that are absolute or climb out of the store root
func CleanRef(ref string) (string, error) {
	if ref == "" || strings.HasPrefix(ref, "/") || strings.Contains(ref, "\\") {
		return "", ErrInvalidRef
	}
	clean := path.Clean(ref)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidRef
	}
	return clean, nil
}
