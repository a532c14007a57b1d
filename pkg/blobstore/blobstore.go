// Package blobstore abstracts the binary storage the chat client
// uploads attachment payloads and thumbnails to.
package blobstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrNotFound indicates the object is absent.
	ErrNotFound = errors.New("object not found")
	// ErrPermission indicates the caller may not access the object.
	ErrPermission = errors.New("permission denied")
)

// Object locates a stored blob.
type Object struct {
	Bucket string
	Path   string
	Size   int64
}

// ProgressFunc receives the transferred and total byte counts while an
// upload is in flight. total is the size passed to Upload.
type ProgressFunc func(transferred, total int64)

// Store is the storage collaborator.
type Store interface {
	// Upload streams r to path, reporting progress. It blocks until
	// the transfer reaches a terminal state; cancel via ctx.
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string, progress ProgressFunc) (Object, error)
	// PutString stores an inline data-URI string (thumbnails).
	PutString(ctx context.Context, path, dataURI string) (Object, error)
	// GetBytes fetches the full object contents.
	GetBytes(ctx context.Context, path string) ([]byte, error)
	// Delete removes the object; deleting an absent object is not an
	// error.
	Delete(ctx context.Context, path string) error
}

// DecodeDataURI splits a "data:<mime>;base64,<payload>" string into
// its MIME type and raw bytes.
func DecodeDataURI(s string) (contentType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URI")
	}
	contentType = strings.TrimSuffix(meta, ";base64")
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URI payload: %w", err)
	}
	return contentType, data, nil
}

// EncodeDataURI renders bytes as an inline data URI.
func EncodeDataURI(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// progressReader counts bytes flowing through an upload and reports
// them to the callback.
type progressReader struct {
	r        io.Reader
	total    int64
	done     int64
	progress ProgressFunc
}

func newProgressReader(r io.Reader, total int64, progress ProgressFunc) io.Reader {
	if progress == nil {
		return r
	}
	return &progressReader{r: r, total: total, progress: progress}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.done += int64(n)
		p.progress(p.done, p.total)
	}
	return n, err
}
