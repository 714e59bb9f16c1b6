// Package checksum writes <artifact>.MD5 files with the output of md5sum.
package checksum

import (
	"fmt"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/wbstage/pkg/fsutil"
	"github.com/variantdev/wbstage/pkg/shell"
	"k8s.io/klog/klogr"
)

const Suffix = ".MD5"

type Writer struct {
	Command string

	Logger logr.Logger

	fs    vfs.FS
	files *fsutil.Files
	sh    *shell.Shell
}

type Option interface {
	SetOption(w *Writer) error
}

type optionFunc func(w *Writer) error

func (f optionFunc) SetOption(w *Writer) error {
	return f(w)
}

func Logger(l logr.Logger) Option {
	return optionFunc(func(w *Writer) error {
		w.Logger = l
		return nil
	})
}

func FS(fs vfs.FS) Option {
	return optionFunc(func(w *Writer) error {
		w.fs = fs
		return nil
	})
}

func Exec(e shell.Exec) Option {
	return optionFunc(func(w *Writer) error {
		w.sh = &shell.Shell{Exec: e}
		return nil
	})
}

func New(opts ...Option) (*Writer, error) {
	w := &Writer{}

	for _, o := range opts {
		if err := o.SetOption(w); err != nil {
			return nil, err
		}
	}

	if w.Logger == nil {
		w.Logger = klogr.New()
	}
	if w.fs == nil {
		w.fs = vfs.HostOSFS
	}
	w.files = fsutil.New(w.fs, w.Logger)
	if w.sh == nil {
		w.sh = &shell.Shell{Exec: shell.DefaultExec}
	}
	w.sh.Logger = w.Logger
	if w.Command == "" {
		w.Command = "md5sum"
	}

	return w, nil
}

// Write runs `md5sum -b <name>` next to the artifact and stores its output in
// <artifact>.MD5. It returns the path of the checksum file.
func (w *Writer) Write(artifact string) (string, error) {
	dir, name := filepath.Split(artifact)
	rawDir, err := w.files.RawPath(filepath.Clean(dir))
	if err != nil {
		return "", err
	}

	out, err := w.sh.Output(&shell.Command{Name: w.Command, Args: []string{"-b", name}, Dir: rawDir})
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", artifact, err)
	}

	sum := artifact + Suffix
	if err := w.fs.WriteFile(sum, []byte(out), 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", sum, err)
	}
	w.Logger.V(1).Info("wrote checksum", "file", sum)

	return sum, nil
}

// WriteAll writes a checksum file for every artifact, stopping at the first failure.
func (w *Writer) WriteAll(artifacts []string) ([]string, error) {
	var sums []string
	for _, a := range artifacts {
		sum, err := w.Write(a)
		if err != nil {
			return sums, err
		}
		sums = append(sums, sum)
	}
	return sums, nil
}
