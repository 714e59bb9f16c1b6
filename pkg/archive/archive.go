package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/wbstage/pkg/fsutil"
	"github.com/variantdev/wbstage/pkg/shell"
	"k8s.io/klog/klogr"
)

// Error reports a failed extraction or archive creation.
type Error struct {
	Op      string
	Archive string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Archive, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Format int

const (
	Unknown Format = iota
	TarGz
	Tar
	Zip
)

// FormatOf determines the archive format from the file name suffix.
func FormatOf(path string) Format {
	switch {
	case strings.HasSuffix(path, ".tar.gz"), strings.HasSuffix(path, ".tgz"):
		return TarGz
	case strings.HasSuffix(path, ".tar"):
		return Tar
	case strings.HasSuffix(path, ".zip"):
		return Zip
	}
	return Unknown
}

// Archiver drives the external tar, unzip and zip commands.
type Archiver struct {
	Logger logr.Logger

	files *fsutil.Files
	sh    *shell.Shell
}

type Option interface {
	SetOption(a *Archiver) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (s *loggerOption) SetOption(a *Archiver) error {
	a.Logger = s.l
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (s *fsOption) SetOption(a *Archiver) error {
	a.files = fsutil.New(s.f, nil)
	return nil
}

func Exec(exec shell.Exec) Option {
	return &execOption{e: exec}
}

type execOption struct {
	e shell.Exec
}

func (s *execOption) SetOption(a *Archiver) error {
	a.sh = &shell.Shell{Exec: s.e}
	return nil
}

func New(opts ...Option) (*Archiver, error) {
	a := &Archiver{}

	for _, o := range opts {
		if err := o.SetOption(a); err != nil {
			return nil, err
		}
	}

	if a.Logger == nil {
		a.Logger = klogr.New()
	}
	if a.files == nil {
		a.files = fsutil.New(vfs.HostOSFS, nil)
	}
	a.files.Logger = a.Logger
	if a.sh == nil {
		a.sh = &shell.Shell{Exec: shell.DefaultExec}
	}
	a.sh.Logger = a.Logger

	return a, nil
}

// Unarchive extracts archivePath into destDir, creating destDir when missing.
// The extractor runs with destDir as its working directory; the working directory of
// this process is never changed.
func (a *Archiver) Unarchive(archivePath, destDir string) error {
	if err := a.files.EnsureDir(destDir); err != nil {
		return err
	}

	src, err := a.files.RawPath(archivePath)
	if err != nil {
		return &Error{Op: "unarchive", Archive: archivePath, Err: err}
	}
	dir, err := a.files.RawPath(destDir)
	if err != nil {
		return &Error{Op: "unarchive", Archive: archivePath, Err: err}
	}

	var cmd *shell.Command
	switch FormatOf(archivePath) {
	case TarGz:
		cmd = &shell.Command{Name: "tar", Args: []string{"-xzf", src}}
	case Tar:
		cmd = &shell.Command{Name: "tar", Args: []string{"-xf", src}}
	case Zip:
		cmd = &shell.Command{Name: "unzip", Args: []string{"-o", "-q", src}}
	default:
		return &Error{Op: "unarchive", Archive: archivePath, Err: fmt.Errorf("unsupported archive format")}
	}
	cmd.Dir = dir

	a.Logger.V(1).Info("unarchiving", "archive", archivePath, "dest", destDir)

	if err := a.sh.Run(cmd); err != nil {
		return &Error{Op: "unarchive", Archive: archivePath, Err: err}
	}
	return nil
}

// ZipPath is where Rezip writes the archive of the update site for version.
func ZipPath(productDir, version string) string {
	return filepath.Join(productDir, version+".zip")
}

// Rezip replaces productDir/<version>.zip with an archive of the update site directory
// productDir/<version>. Files ending in excludeSuffix are left out.
// It returns the path of the new zip, or "" when the site holds no files.
func (a *Archiver) Rezip(productDir, version, excludeSuffix string) (string, error) {
	siteDir := filepath.Join(productDir, version)
	zipPath := ZipPath(productDir, version)

	if err := a.files.RemoveTree(zipPath); err != nil {
		return "", &Error{Op: "rezip", Archive: zipPath, Err: err}
	}

	include := fsutil.Not(fsutil.IsDir)
	if excludeSuffix != "" {
		include = fsutil.And(include, fsutil.Not(fsutil.HasSuffix(excludeSuffix)))
	}

	var files []string
	err := a.files.Walk(siteDir, func(rel string, fi os.FileInfo) error {
		if include(fi) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return "", &Error{Op: "rezip", Archive: zipPath, Err: err}
	}
	sort.Strings(files)

	if len(files) == 0 {
		a.Logger.Info("nothing to zip", "site", siteDir)
		return "", nil
	}

	dst, err := a.files.RawPath(zipPath)
	if err != nil {
		return "", &Error{Op: "rezip", Archive: zipPath, Err: err}
	}
	dir, err := a.files.RawPath(siteDir)
	if err != nil {
		return "", &Error{Op: "rezip", Archive: zipPath, Err: err}
	}

	a.Logger.V(1).Info("zipping", "site", siteDir, "zip", zipPath, "files", len(files))

	cmd := &shell.Command{
		Name: "zip",
		Args: append([]string{"-q", dst}, files...),
		Dir:  dir,
	}
	if err := a.sh.Run(cmd); err != nil {
		return "", &Error{Op: "rezip", Archive: zipPath, Err: err}
	}

	return zipPath, nil
}
