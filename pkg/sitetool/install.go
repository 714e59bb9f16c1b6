package sitetool

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-getter"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/wbstage/pkg/fsutil"
	"github.com/variantdev/wbstage/pkg/tmpl"
	"k8s.io/klog/klogr"
)

// DefaultArchiveName locates the toolset archive of an Eclipse version inside the archive dir.
const DefaultArchiveName = "eclipse-{{.Version}}.tar.gz"

// Installer materializes the versioned p2 toolset by extracting its archive into
// InstallRoot/<version>. Each version is extracted at most once per Installer; an install
// directory left by an earlier process is reused as is.
type Installer struct {
	ArchiveDir  string
	ArchiveName string
	InstallRoot string

	// Getter extracts the archive. Defaults to go-getter, which unpacks by file extension.
	Getter Getter

	Logger logr.Logger

	files *fsutil.Files

	mu        sync.Mutex
	installed map[string]string
}

type Getter interface {
	Get(wd, src, dst string) error
}

type InstallerOption interface {
	SetOption(i *Installer) error
}

type installerOptionFunc func(i *Installer) error

func (f installerOptionFunc) SetOption(i *Installer) error {
	return f(i)
}

// ArchiveDir sets the directory holding the toolset archives.
func ArchiveDir(dir string) InstallerOption {
	return installerOptionFunc(func(i *Installer) error {
		i.ArchiveDir = dir
		return nil
	})
}

func ArchiveName(tpl string) InstallerOption {
	return installerOptionFunc(func(i *Installer) error {
		i.ArchiveName = tpl
		return nil
	})
}

func InstallRoot(dir string) InstallerOption {
	return installerOptionFunc(func(i *Installer) error {
		i.InstallRoot = dir
		return nil
	})
}

func WithGetter(g Getter) InstallerOption {
	return installerOptionFunc(func(i *Installer) error {
		i.Getter = g
		return nil
	})
}

func InstallerLogger(l logr.Logger) InstallerOption {
	return installerOptionFunc(func(i *Installer) error {
		i.Logger = l
		return nil
	})
}

func InstallerFS(fs vfs.FS) InstallerOption {
	return installerOptionFunc(func(i *Installer) error {
		i.files = fsutil.New(fs, nil)
		return nil
	})
}

func NewInstaller(opts ...InstallerOption) (*Installer, error) {
	i := &Installer{}

	for _, o := range opts {
		if err := o.SetOption(i); err != nil {
			return nil, err
		}
	}

	if i.ArchiveDir == "" {
		return nil, fmt.Errorf("sitetool: archive dir is required")
	}
	if i.InstallRoot == "" {
		i.InstallRoot = filepath.Join(i.ArchiveDir, "install")
	}
	if i.ArchiveName == "" {
		i.ArchiveName = DefaultArchiveName
	}
	if i.Logger == nil {
		i.Logger = klogr.New()
	}
	if i.files == nil {
		i.files = fsutil.New(vfs.HostOSFS, nil)
	}
	i.files.Logger = i.Logger
	if i.Getter == nil {
		i.Getter = &GoGetter{Logger: i.Logger}
	}
	i.installed = map[string]string{}

	return i, nil
}

// Install returns the install directory of the toolset for version, extracting it first
// when needed.
func (i *Installer) Install(version string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if dir, ok := i.installed[version]; ok {
		return dir, nil
	}

	name, err := tmpl.Render("archive name", i.ArchiveName, map[string]string{"Version": version})
	if err != nil {
		return "", err
	}
	archive := filepath.Join(i.ArchiveDir, name)
	dir := filepath.Join(i.InstallRoot, version)

	if names, err := i.files.List(dir, nil); err == nil && len(names) > 0 {
		i.Logger.V(1).Info("reusing toolset", "version", version, "dir", dir)
		i.installed[version] = dir
		return dir, nil
	}

	if !i.files.Exists(archive) {
		return "", fmt.Errorf("toolset archive for eclipse %s not found: %s", version, archive)
	}

	// go-getter refuses to extract into an existing destination
	if err := i.files.RemoveTree(dir); err != nil {
		return "", err
	}
	if err := i.files.EnsureDir(i.InstallRoot); err != nil {
		return "", err
	}

	src, err := i.files.RawPath(archive)
	if err != nil {
		return "", err
	}
	dst, err := i.files.RawPath(dir)
	if err != nil {
		return "", err
	}
	wd, err := i.files.RawPath(i.InstallRoot)
	if err != nil {
		return "", err
	}

	i.Logger.Info("installing toolset", "version", version, "archive", archive, "dir", dir)

	if err := i.Getter.Get(wd, src, dst); err != nil {
		if err2 := i.files.RemoveTree(dir); err2 != nil {
			return "", err2
		}
		return "", fmt.Errorf("installing toolset for eclipse %s: %w", version, err)
	}

	i.installed[version] = dir
	return dir, nil
}

type GoGetter struct {
	Logger logr.Logger
}

func (g *GoGetter) Get(wd, src, dst string) error {
	get := &getter.Client{
		Ctx:     context.Background(),
		Src:     src,
		Dst:     dst,
		Pwd:     wd,
		Mode:    getter.ClientModeDir,
		Options: []getter.ClientOption{},
	}

	g.Logger.V(1).Info("get", "wd", wd, "src", src, "dst", dst)

	if err := get.Get(); err != nil {
		return fmt.Errorf("get: %v", err)
	}

	return nil
}
