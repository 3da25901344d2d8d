package store

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/liamg/memoryfs"
)

// SharedFS serves the contents of open documents from memory and falls back
// to the disk for everything else. Disk reads are registered as lazy files
// so they are only performed when the file is actually read.
type SharedFS struct {
	// memoryfs does not lock every map access, all calls go through mu
	mu    sync.Mutex
	memfs *memoryfs.FS
}

func NewSharedFS() *SharedFS {
	return &SharedFS{
		memfs: memoryfs.New(),
	}
}

// memPath converts an OS path into the slash separated, unrooted form
// memoryfs expects.
func memPath(name string) string {
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(name)), "/")
}

func (sfs *SharedFS) mkdirParent(path string) error {
	dir := filepath.ToSlash(filepath.Dir(path))
	if dir == "." {
		return nil
	}

	if err := sfs.memfs.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	return nil
}

func (sfs *SharedFS) Remove(name string) error {
	sfs.mu.Lock()
	defer sfs.mu.Unlock()
	return sfs.memfs.Remove(memPath(name))
}

func (sfs *SharedFS) WriteFile(name string, content []byte) error {
	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	path := memPath(name)
	if err := sfs.mkdirParent(path); err != nil {
		return err
	}

	// replace instead of overwriting, lazy disk entries are read-only
	_ = sfs.memfs.Remove(path)
	return sfs.memfs.WriteFile(path, content, 0o700)
}

func (sfs *SharedFS) Open(name string) (fs.File, error) {
	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	path := memPath(name)
	if file, err := sfs.memfs.Open(path); err == nil {
		return file, nil
	}

	if info, err := os.Stat(name); err != nil {
		return nil, err
	} else if info.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	if err := sfs.mkdirParent(path); err != nil {
		return nil, err
	}

	if err := sfs.memfs.WriteLazyFile(path, func() (io.Reader, error) {
		return os.Open(name)
	}, 0o700); err != nil {
		return nil, err
	}
	return sfs.memfs.Open(path)
}

func (sfs *SharedFS) ReadFile(name string) ([]byte, error) {
	file, err := sfs.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	return io.ReadAll(file)
}
