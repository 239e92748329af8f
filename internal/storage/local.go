package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/quranicquest/recitation/pkg/utils"
)

// Local implements FileStore on top of the local filesystem.
// All paths are resolved relative to the configured root directory.
type Local struct {
	root string
}

// NewLocal creates a Local store rooted at dir.
// The directory is created (with parents) if it does not already exist.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute directory backing the store.
func (l *Local) Root() string { return l.root }

// resolve turns a storage path into an absolute filesystem path, refusing
// paths that would escape the root.
func (l *Local) resolve(path string) (string, error) {
	full := filepath.Join(l.root, filepath.FromSlash(path))
	if full != l.root && !strings.HasPrefix(full, l.root+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: path %q escapes store root", path)
	}
	return full, nil
}

func (l *Local) Read(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// Write creates parent directories as needed. Data goes to a hidden temp
// file next to the target and replaces it on Close, so readers never see a
// partial object.
func (l *Local) Write(_ context.Context, path string) (io.WriteCloser, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(full)
	if err := utils.MakeDir(dir); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return nil, err
	}
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return &localWriter{File: f, final: full}, nil
}

type localWriter struct {
	*os.File
	final string
}

func (w *localWriter) Close() error {
	if err := w.File.Close(); err != nil {
		os.Remove(w.Name())
		return err
	}
	if err := utils.MoveFile(w.Name(), w.final); err != nil {
		os.Remove(w.Name())
		return err
	}
	return nil
}

// Delete is idempotent: a missing file returns nil.
func (l *Local) Delete(_ context.Context, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	full, err := l.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

var _ FileStore = (*Local)(nil)
