package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrExists   = errors.New("blob already exists")
	ErrNotFound = errors.New("blob not found")
)

// Local is write-once blob storage rooted at a directory. Names are flat;
// path separators are rejected.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

// ChunkName is the blob name of a recording's segment.
func ChunkName(recordingID string, index int, ext string) string {
	return fmt.Sprintf("%s_chunk_%d.%s", recordingID, index, strings.TrimPrefix(ext, "."))
}

func (l *Local) Path(name string) string {
	return filepath.Join(l.root, name)
}

// Create opens a new blob for writing. It fails with ErrExists when the
// name is taken.
func (l *Local) Create(name string) (io.WriteCloser, string, error) {
	if err := checkName(name); err != nil {
		return nil, "", err
	}
	path := l.Path(name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("%w: %s", ErrExists, name)
		}
		return nil, "", err
	}
	return f, path, nil
}

// Put writes r to a new blob and returns its path.
func (l *Local) Put(name string, r io.Reader) (string, error) {
	w, path, err := l.Create(name)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		os.Remove(path)
		return "", fmt.Errorf("write blob %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (l *Local) Open(name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(l.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, err
}

// Remove deletes a blob; missing blobs are not an error.
func (l *Local) Remove(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	err := os.Remove(l.Path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid blob name %q", name)
	}
	return nil
}
