// Package mirror publishes a staged product directory to the public mirror: a new
// timestamped deployment plus the alias directory, with site descriptors pointing at
// the mirror list and a deployments.yaml history kept next to them.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/wbstage/pkg/fsutil"
	"github.com/variantdev/wbstage/pkg/semver"
	"github.com/variantdev/wbstage/pkg/tmpl"
	"k8s.io/klog/klogr"
)

const (
	// TimestampLayout names deployment directories. Its fixed width makes lexical order chronological.
	TimestampLayout = "200601021504"

	DefaultAlias = "integration"
)

type Deployment struct {
	ID         string
	Subproduct string
	Root       string
	Name       string
	Dir        string
	AliasDir   string
	Versions   []string
	Time       time.Time
}

type Deployer struct {
	DeployDir string
	Alias     string

	// MirrorsURL is a template rendered with .Subproduct, .Version and .Name. Empty skips patching.
	MirrorsURL string

	Now func() time.Time

	Logger logr.Logger

	fs    vfs.FS
	files *fsutil.Files
}

type Option interface {
	SetOption(d *Deployer) error
}

type optionFunc func(d *Deployer) error

func (f optionFunc) SetOption(d *Deployer) error {
	return f(d)
}

func Logger(l logr.Logger) Option {
	return optionFunc(func(d *Deployer) error {
		d.Logger = l
		return nil
	})
}

func FS(fs vfs.FS) Option {
	return optionFunc(func(d *Deployer) error {
		d.fs = fs
		return nil
	})
}

func Alias(a string) Option {
	return optionFunc(func(d *Deployer) error {
		d.Alias = a
		return nil
	})
}

func MirrorsURL(u string) Option {
	return optionFunc(func(d *Deployer) error {
		d.MirrorsURL = u
		return nil
	})
}

func Now(f func() time.Time) Option {
	return optionFunc(func(d *Deployer) error {
		d.Now = f
		return nil
	})
}

func New(deployDir string, opts ...Option) (*Deployer, error) {
	d := &Deployer{DeployDir: deployDir}

	for _, o := range opts {
		if err := o.SetOption(d); err != nil {
			return nil, err
		}
	}

	if d.DeployDir == "" {
		return nil, fmt.Errorf("mirror: deploy dir is required")
	}
	if d.Alias == "" {
		d.Alias = DefaultAlias
	}
	if d.Alias[0] >= '0' && d.Alias[0] <= '9' {
		return nil, fmt.Errorf("mirror: alias %q must not start with a digit", d.Alias)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = klogr.New()
	}
	if d.fs == nil {
		d.fs = vfs.HostOSFS
	}
	d.files = fsutil.New(d.fs, d.Logger)

	return d, nil
}

// Root is the deploy root of one subproduct.
func (d *Deployer) Root(subproduct string) string {
	return filepath.Join(d.DeployDir, subproduct)
}

// Deploy copies productDir into a new timestamped directory and recreates the alias
// directory from it. An existing deployment with the same timestamp is never overwritten.
func (d *Deployer) Deploy(ctx context.Context, productDir, subproduct string) (*Deployment, error) {
	if !d.files.DirExists(productDir) {
		return nil, fmt.Errorf("deploy: product dir %s does not exist", productDir)
	}
	versions, err := siteVersions(d.files, productDir)
	if err != nil {
		return nil, err
	}

	now := d.Now()
	root := d.Root(subproduct)
	dep := &Deployment{
		ID:         uuid.New().String(),
		Subproduct: subproduct,
		Root:       root,
		Name:       now.Format(TimestampLayout),
		AliasDir:   filepath.Join(root, d.Alias),
		Versions:   versions,
		Time:       now,
	}
	dep.Dir = filepath.Join(root, dep.Name)

	if err := d.files.EnsureDir(root); err != nil {
		return nil, err
	}
	if d.files.Exists(dep.Dir) {
		return nil, fmt.Errorf("deploy: %s already exists", dep.Dir)
	}

	d.Logger.Info("deploying", "product", productDir, "dir", dep.Dir, "id", dep.ID)
	if err := d.files.CopyTree(productDir, dep.Dir); err != nil {
		return nil, fmt.Errorf("deploy: copying to %s: %w", dep.Dir, err)
	}
	if err := d.patchSites(dep.Dir, dep); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.Logger.Info("updating alias", "dir", dep.AliasDir)
	if err := d.files.RemoveTree(dep.AliasDir); err != nil {
		return nil, err
	}
	if err := d.files.CopyTree(productDir, dep.AliasDir); err != nil {
		return nil, fmt.Errorf("deploy: copying to %s: %w", dep.AliasDir, err)
	}
	if err := d.patchSites(dep.AliasDir, dep); err != nil {
		return nil, err
	}

	return dep, nil
}

// Record appends dep to the deployments.yaml of its subproduct and drops the entries of
// deployments that no longer exist.
func (d *Deployer) Record(dep *Deployment, drop string, existing []string) error {
	path := filepath.Join(dep.Root, HistoryFile)

	h, err := LoadHistory(d.fs, path)
	if err != nil {
		return err
	}
	h.Add(Record{
		ID:       dep.ID,
		Dir:      dep.Name,
		Drop:     drop,
		Time:     dep.Time.UTC(),
		Versions: dep.Versions,
	})
	h.Retain(existing)

	d.Logger.V(1).Info("recording deployment", "history", path, "entries", len(h.Deployments))

	return h.Save(d.fs, path)
}

func (d *Deployer) patchSites(dir string, dep *Deployment) error {
	if d.MirrorsURL == "" {
		return nil
	}
	for _, v := range dep.Versions {
		path := filepath.Join(dir, v, SiteDescriptor)
		fi, err := d.fs.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}

		url, err := tmpl.Render("mirrors url", d.MirrorsURL, map[string]string{
			"Subproduct": dep.Subproduct,
			"Version":    v,
			"Name":       dep.Name,
		})
		if err != nil {
			return err
		}

		src, err := d.fs.ReadFile(path)
		if err != nil {
			return err
		}
		patched, err := PatchMirrorsURL(src, url)
		if err != nil {
			return fmt.Errorf("patching %s: %w", path, err)
		}
		d.Logger.V(1).Info("patched site descriptor", "file", path, "mirrorsURL", url)
		if err := d.fs.WriteFile(path, patched, fi.Mode().Perm()); err != nil {
			return err
		}
	}
	return nil
}

// siteVersions lists the update site directories of productDir in version order.
func siteVersions(files *fsutil.Files, productDir string) ([]string, error) {
	dirs, err := files.List(productDir, fsutil.IsDir)
	if err != nil {
		return nil, err
	}
	var versions []string
	for _, d := range dirs {
		if semver.IsEclipse(d) {
			versions = append(versions, d)
		}
	}
	return semver.Sort(versions)
}
