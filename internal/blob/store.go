// Package blob stores attached purchase photos as files in one flat
// directory. References are bare file names, so a record never carries an
// absolute path and the directory can be moved between deployments.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Jeazzzy/UWantIt/internal/domain"
)

// ErrInvalidRef is returned for references that would escape the directory.
var ErrInvalidRef = errors.New("invalid blob reference")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Store is a directory-backed blob store.
type Store struct {
	Dir string
}

// New returns a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("blob dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

// RefFor derives the blob name for an owner's image from its transport file
// identifier.
func RefFor(owner domain.UserID, fileID string) string {
	return fmt.Sprintf("%d_%s.jpg", owner, unsafeChars.ReplaceAllString(fileID, ""))
}

// Save writes r under the name derived from owner and fileID and returns the
// reference. The file is written to a temp name and renamed into place so a
// partial download never becomes visible.
func (s *Store) Save(owner domain.UserID, fileID string, r io.Reader) (string, error) {
	ref := RefFor(owner, fileID)
	dst, err := s.Path(ref)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.Dir, ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return ref, nil
}

// Path resolves ref to a file path inside the store directory.
func (s *Store) Path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", ErrInvalidRef
	}
	return filepath.Join(s.Dir, ref), nil
}

// Exists reports whether ref resolves to a regular file.
func (s *Store) Exists(ref string) bool {
	p, err := s.Path(ref)
	if err != nil {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// Remove deletes the blob. A missing file is not an error.
func (s *Store) Remove(ref string) error {
	p, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
