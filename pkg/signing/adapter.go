package signing

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/wbstage/pkg/fsutil"
	"github.com/variantdev/wbstage/pkg/shell"
	"k8s.io/klog/klogr"
)

// SignedDirName is the directory below the source directory that receives signed artifacts.
const SignedDirName = "signed"

type Kind string

const (
	KindExternal Kind = "external"
	KindMock     Kind = "mock"
	KindSelfSign Kind = "self"
)

// Adapter selects the artifacts of a directory and hands them to the signing strategy.
type Adapter struct {
	Strategy Strategy

	// Select picks the artifacts to sign. Defaults to regular .zip files.
	Select fsutil.Filter

	Logger logr.Logger

	files *fsutil.Files
}

type Option interface {
	SetOption(a *Adapter) error
}

type optionFunc func(a *Adapter) error

func (f optionFunc) SetOption(a *Adapter) error {
	return f(a)
}

func Logger(logger logr.Logger) Option {
	return optionFunc(func(a *Adapter) error {
		a.Logger = logger
		return nil
	})
}

func FS(fs vfs.FS) Option {
	return optionFunc(func(a *Adapter) error {
		a.files = fsutil.New(fs, nil)
		return nil
	})
}

func WithStrategy(s Strategy) Option {
	return optionFunc(func(a *Adapter) error {
		a.Strategy = s
		return nil
	})
}

func Select(f fsutil.Filter) Option {
	return optionFunc(func(a *Adapter) error {
		a.Select = f
		return nil
	})
}

func New(opts ...Option) (*Adapter, error) {
	a := &Adapter{}

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
	if a.Select == nil {
		a.Select = fsutil.IsZip
	}
	if a.Strategy == nil {
		return nil, fmt.Errorf("signing: no strategy configured")
	}

	return a, nil
}

// Config describes how to build a Strategy.
type Config struct {
	Kind Kind

	Command      []string
	PollInterval string
	PollAttempts int

	Keystore  string
	StorePass string
	Alias     string
}

// NewStrategy builds the strategy for kind. Unknown kinds are an error.
func NewStrategy(conf Config, fs vfs.FS, exec shell.Exec, logger logr.Logger) (Strategy, error) {
	files := fsutil.New(fs, logger)
	sh := shell.New(exec, logger)

	switch conf.Kind {
	case KindMock:
		return &Mock{Files: files, Logger: files.Logger}, nil
	case KindSelfSign:
		return &SelfSign{
			Keystore:  conf.Keystore,
			StorePass: conf.StorePass,
			Alias:     conf.Alias,
			Files:     files,
			Shell:     sh,
			Logger:    files.Logger,
		}, nil
	case KindExternal, "":
		ext := &External{
			Command:      conf.Command,
			PollAttempts: conf.PollAttempts,
			Files:        files,
			Shell:        sh,
			Logger:       files.Logger,
		}
		if conf.PollInterval != "" {
			d, err := parseDuration(conf.PollInterval)
			if err != nil {
				return nil, err
			}
			ext.PollInterval = d
		}
		return ext, nil
	}
	return nil, fmt.Errorf("unknown signing strategy %q", conf.Kind)
}

// SignZipFiles signs the selected artifacts of sourceDir into sourceDir/signed and returns
// that directory.
func (a *Adapter) SignZipFiles(ctx context.Context, sourceDir string) (string, error) {
	signedDir := filepath.Join(sourceDir, SignedDirName)
	if err := a.files.EnsureDir(signedDir); err != nil {
		return "", err
	}

	names, err := a.files.List(sourceDir, a.Select)
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", sourceDir, err)
	}

	var files []string
	for _, n := range names {
		p := filepath.Join(sourceDir, n)
		if err := a.files.FS.Chmod(p, 0666); err != nil {
			return "", err
		}
		files = append(files, p)
	}

	a.Logger.Info("signing", "dir", sourceDir, "artifacts", len(files), "strategy", fmt.Sprintf("%T", a.Strategy))

	if err := a.Strategy.Sign(ctx, files, signedDir); err != nil {
		return "", err
	}

	return signedDir, nil
}
