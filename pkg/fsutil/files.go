package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"k8s.io/klog/klogr"
)

// ErrNoInput is returned when a directory expected to hold artifacts is empty.
var ErrNoInput = errors.New("no input")

var errRootRemoval = errors.New("refusing to remove the filesystem root")

type Files struct {
	FS     vfs.FS
	Logger logr.Logger
}

func New(fs vfs.FS, logger logr.Logger) *Files {
	if fs == nil {
		fs = vfs.HostOSFS
	}
	if logger == nil {
		logger = klogr.New()
	}
	return &Files{FS: fs, Logger: logger}
}

// CopyFiles copies the entries of from selected by filter into to, preserving their mode
// and modification time. Directories are copied recursively.
// It returns the names of the copied entries.
func (f *Files) CopyFiles(from, to string, filter Filter) ([]string, error) {
	return f.transfer("copy", from, to, filter, f.copyEntry)
}

// MoveFiles is CopyFiles, except that the selected entries no longer exist in from afterwards.
func (f *Files) MoveFiles(from, to string, filter Filter) ([]string, error) {
	return f.transfer("move", from, to, filter, f.moveEntry)
}

func (f *Files) transfer(op, from, to string, filter Filter, do func(src, dst string, fi os.FileInfo) error) ([]string, error) {
	infos, err := f.FS.ReadDir(from)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", from, err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%s %s: %w", op, from, ErrNoInput)
	}

	if err := f.EnsureDir(to); err != nil {
		return nil, err
	}

	var names []string
	for _, fi := range infos {
		if !filter.match(fi) {
			continue
		}
		src := filepath.Join(from, fi.Name())
		dst := filepath.Join(to, fi.Name())
		f.Logger.V(1).Info(op, "src", src, "dst", dst)
		if err := do(src, dst, fi); err != nil {
			return names, fmt.Errorf("%s %s to %s: %w", op, src, dst, err)
		}
		names = append(names, fi.Name())
	}

	return names, nil
}

// CopyTree copies the directory from, including from itself, to the path to.
func (f *Files) CopyTree(from, to string) error {
	fi, err := f.FS.Lstat(from)
	if err != nil {
		return err
	}
	return f.copyEntry(from, to, fi)
}

func (f *Files) copyEntry(src, dst string, fi os.FileInfo) error {
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		target, err := f.FS.Readlink(src)
		if err != nil {
			return err
		}
		if err := f.FS.RemoveAll(dst); err != nil {
			return err
		}
		return f.FS.Symlink(target, dst)
	case fi.IsDir():
		if err := f.EnsureDir(dst); err != nil {
			return err
		}
		children, err := f.FS.ReadDir(src)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := f.copyEntry(filepath.Join(src, c.Name()), filepath.Join(dst, c.Name()), c); err != nil {
				return err
			}
		}
		if err := f.FS.Chmod(dst, fi.Mode().Perm()); err != nil {
			return err
		}
		return f.FS.Chtimes(dst, fi.ModTime(), fi.ModTime())
	default:
		bs, err := f.FS.ReadFile(src)
		if err != nil {
			return err
		}
		if err := f.FS.WriteFile(dst, bs, fi.Mode().Perm()); err != nil {
			return err
		}
		// WriteFile only applies the mode to new files
		if err := f.FS.Chmod(dst, fi.Mode().Perm()); err != nil {
			return err
		}
		return f.FS.Chtimes(dst, fi.ModTime(), fi.ModTime())
	}
}

func (f *Files) moveEntry(src, dst string, fi os.FileInfo) error {
	existing, err := f.FS.Lstat(dst)
	switch {
	case err == nil && existing.IsDir() && fi.IsDir():
		// Merge into the existing directory
		children, err := f.FS.ReadDir(src)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := f.moveEntry(filepath.Join(src, c.Name()), filepath.Join(dst, c.Name()), c); err != nil {
				return err
			}
		}
		return f.FS.Remove(src)
	case err == nil && existing.IsDir() != fi.IsDir():
		if err := f.FS.RemoveAll(dst); err != nil {
			return err
		}
	case err != nil && !os.IsNotExist(err):
		return err
	}
	return f.FS.Rename(src, dst)
}

// RemoveTree deletes path and everything below it. It is a no-op when path does not exist.
// Removing the filesystem root is never attempted: it is logged and skipped.
func (f *Files) RemoveTree(path string) error {
	if path == "" {
		return errors.New("remove tree: empty path")
	}
	clean := filepath.Clean(path)
	if clean == string(filepath.Separator) || clean == filepath.VolumeName(clean)+string(filepath.Separator) {
		f.Logger.Error(errRootRemoval, "CRITICAL: skipped removal", "path", path)
		return nil
	}
	f.Logger.V(1).Info("removing tree", "path", clean)
	return f.FS.RemoveAll(clean)
}

// EnsureDir creates path and its parents. An existing directory is not an error.
func (f *Files) EnsureDir(path string) error {
	if err := vfs.MkdirAll(f.FS, path, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	return nil
}

// Recreate destroys path if present and creates it again, empty.
func (f *Files) Recreate(path string) error {
	if err := f.RemoveTree(path); err != nil {
		return err
	}
	return f.EnsureDir(path)
}

func (f *Files) Exists(path string) bool {
	_, err := f.FS.Lstat(path)
	return err == nil
}

func (f *Files) DirExists(path string) bool {
	fi, err := f.FS.Stat(path)
	return err == nil && fi.IsDir()
}

// List returns the names of the entries of dir selected by filter, in lexical order.
func (f *Files) List(dir string, filter Filter) ([]string, error) {
	infos, err := f.FS.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, fi := range infos {
		if filter.match(fi) {
			names = append(names, fi.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// WalkFunc is called for every entry below the walk root with its path relative to the root.
type WalkFunc func(rel string, fi os.FileInfo) error

// Walk visits every entry below root in lexical order, depth first. Symlinks are not followed.
func (f *Files) Walk(root string, fn WalkFunc) error {
	return f.walk(root, "", fn)
}

func (f *Files) walk(root, rel string, fn WalkFunc) error {
	infos, err := f.FS.ReadDir(filepath.Join(root, rel))
	if err != nil {
		return err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	for _, fi := range infos {
		p := filepath.Join(rel, fi.Name())
		if err := fn(p, fi); err != nil {
			return err
		}
		if fi.IsDir() {
			if err := f.walk(root, p, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// RawPath translates path into a path on the host filesystem, for external commands.
func (f *Files) RawPath(path string) (string, error) {
	return RawPath(f.FS, path)
}

type joiner interface {
	Join(op, name string) (string, error)
}

// RawPath returns the host path backing path in fs. Filesystems rooted in a
// directory (vfs.PathFS, vfst.TestFS) prefix their root; others are taken to
// be the host filesystem.
func RawPath(fs vfs.FS, path string) (string, error) {
	if j, ok := fs.(joiner); ok {
		return j.Join("RawPath", path)
	}
	return path, nil
}
