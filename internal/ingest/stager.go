package ingest

import (
	"fmt"
	"io"
	"mime"
	"os"

	"github.com/gabriel-vasile/mimetype"
)

// ArchiveFormat is the container format detected from the payload's magic bytes.
type ArchiveFormat string

const (
	FormatZip ArchiveFormat = "zip"
	FormatRar ArchiveFormat = "rar"
)

// Declared content types browsers and curl send for archives. A missing
// header and octet-stream are accepted; the payload is sniffed anyway.
var allowedContentTypes = map[string]bool{
	"application/octet-stream":     true,
	"application/zip":              true,
	"application/x-zip":            true,
	"application/x-zip-compressed": true,
	"multipart/x-zip":              true,
	"application/vnd.rar":          true,
	"application/x-rar":            true,
	"application/x-rar-compressed": true,
}

// Upload is one file received from a caller.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Stager writes an upload into the job workspace after basic admission checks.
type Stager struct {
	MaxBytes int64
}

// Stage persists u to ws.ArchivePath and reports its archive format.
func (s *Stager) Stage(u *Upload, ws *Workspace) (string, ArchiveFormat, error) {
	if u == nil || u.Body == nil {
		return "", "", fmt.Errorf("%w: no file", ErrInvalidUpload)
	}
	if err := checkContentType(u.ContentType); err != nil {
		return "", "", err
	}

	path := ws.ArchivePath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", "", fmt.Errorf("stage archive: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(u.Body, s.MaxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", "", fmt.Errorf("stage archive: %w", err)
	}

	switch {
	case n == 0:
		return "", "", fmt.Errorf("%w: empty file", ErrInvalidUpload)
	case n > s.MaxBytes:
		return "", "", fmt.Errorf("%w: larger than %d bytes", ErrInvalidUpload, s.MaxBytes)
	}

	format, err := sniffFormat(path)
	if err != nil {
		return "", "", err
	}
	return path, format, nil
}

func checkContentType(declared string) error {
	if declared == "" {
		return nil
	}
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil || !allowedContentTypes[mt] {
		return fmt.Errorf("%w: content type %q", ErrInvalidUpload, declared)
	}
	return nil
}

func sniffFormat(path string) (ArchiveFormat, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("sniff archive: %w", err)
	}
	// Office documents, jars and the like are zip underneath.
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case m.Is("application/zip"):
			return FormatZip, nil
		case m.Is("application/x-rar-compressed"):
			return FormatRar, nil
		}
	}
	return "", fmt.Errorf("%w: payload is %s, not an archive", ErrInvalidUpload, mt.String())
}
