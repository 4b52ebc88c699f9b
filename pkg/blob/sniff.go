package blob

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const sniffLen = 3072

// Sniffed is an upload whose type was detected from its leading bytes
type Sniffed struct {
	ContentType string
	Extension   string
	Body        io.Reader
}

// Sniff detects the MIME type of r. The returned Body replays the consumed
// header followed by the rest of r.
func Sniff(r io.Reader) (*Sniffed, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("read upload header: %w", err)
	}
	head = head[:n]

	mt := mimetype.Detect(head)
	return &Sniffed{
		ContentType: mt.String(),
		Extension:   mt.Extension(),
		Body:        io.MultiReader(bytes.NewReader(head), r),
	}, nil
}

// Read makes a Sniffed upload usable as the reader passed to Store.Put, which
// takes the file extension from it
func (s *Sniffed) Read(p []byte) (int, error) {
	return s.Body.Read(p)
}

// IsImage reports an image/* type
func (s *Sniffed) IsImage() bool {
	return strings.HasPrefix(s.ContentType, "image/")
}

// IsMedia reports an image/* or video/* type
func (s *Sniffed) IsMedia() bool {
	return s.IsImage() || strings.HasPrefix(s.ContentType, "video/")
}

// BaseType drops MIME parameters such as charset
func (s *Sniffed) BaseType() string {
	if i := strings.IndexByte(s.ContentType, ';'); i >= 0 {
		return strings.TrimSpace(s.ContentType[:i])
	}
	return s.ContentType
}
