// Package media stores uploaded files on local disk and serves them back
// without letting a request path escape the upload root.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/apperr"
)

// DefaultMaxBytes is used when no limit is configured.
const DefaultMaxBytes = 5 << 20

var imageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

type Store struct {
	root     string
	maxBytes int64
}

// NewStore creates root if needed.
func NewStore(root string, maxBytes int64) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{root: abs, maxBytes: maxBytes}, nil
}

func (s *Store) MaxBytes() int64 { return s.maxBytes }

// Saved describes a stored file. Path is relative to the root and uses
// forward slashes.
type Saved struct {
	Path     string `json:"path"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// SaveImage stores an image upload under <owner>/<random><ext>. The type
// is taken from the content, never from the client's filename.
func (s *Store) SaveImage(ownerID uuid.UUID, r io.Reader) (*Saved, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, apperr.InvalidArg("file is too large")
	}
	if len(data) == 0 {
		return nil, apperr.InvalidArg("file is empty")
	}

	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), imageTypes...) {
		return nil, apperr.InvalidArg("only jpeg, png, gif or webp images are accepted")
	}

	dir := filepath.Join(s.root, ownerID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create owner dir: %w", err)
	}
	name := uuid.NewString() + mt.Extension()
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(f, bytes.NewReader(data))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return &Saved{
		Path:     ownerID.String() + "/" + name,
		MimeType: mt.String(),
		Size:     n,
	}, nil
}

// Resolve maps a request path to a file under the root.
//
// Empty, absolute, backslash, doubled-separator and dot-dot paths are
// rejected outright; the cleaned result must still sit inside the root.
func (s *Store) Resolve(rel string) (string, error) {
	rel = strings.TrimPrefix(rel, "/")
	switch {
	case rel == "",
		strings.Contains(rel, "\\"),
		strings.Contains(rel, "//"),
		strings.Contains(rel, "\x00"),
		filepath.IsAbs(rel):
		return "", apperr.ErrInvalidPath
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", apperr.ErrInvalidPath
		}
	}

	full := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(rel)))
	inside, err := filepath.Rel(s.root, full)
	if err != nil || inside == "." || strings.HasPrefix(inside, "..") {
		return "", apperr.ErrInvalidPath
	}
	return full, nil
}

// Open returns the file at rel with its detected content type. Missing
// files and directories are NotFound.
func (s *Store) Open(rel string) (*os.File, string, error) {
	full, err := s.Resolve(rel)
	if err != nil {
		return nil, "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", apperr.NotFound("file not found")
		}
		return nil, "", fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, "", apperr.NotFound("file not found")
	}

	mt, err := mimetype.DetectFile(full)
	if err != nil {
		return nil, "", fmt.Errorf("detect type: %w", err)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, "", fmt.Errorf("open file: %w", err)
	}
	return f, mt.String(), nil
}
