// Package pipeline stages a WindowBuilder build drop as Eclipse update sites and deploys
// staged sites to the public mirror.
//
// A staging run copies the drop into base_dir/<subproduct>, moves its zips into the sign
// directory, runs the enabled transforms (sign, pack, optimize) there, merges the result
// back, unzips every <version>.zip into its update site, regenerates p2 metadata,
// post-processes, verifies, re-zips and checksums the sites. A deploy run copies the
// product directory to a new timestamped directory and the alias below
// deploy_dir/<subproduct>, then prunes old deployments.
//
// The sign directory is removed when a run ends, however it ends. The product directory
// and the deployments are never rolled back, so a failed run leaves them for inspection.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/wbstage/pkg/fsutil"
	"github.com/variantdev/wbstage/pkg/mirror"
	"github.com/variantdev/wbstage/pkg/telemetry"
	"github.com/variantdev/wbstage/pkg/verify"
	"k8s.io/klog/klogr"
)

type Archiver interface {
	Unarchive(archivePath, destDir string) error
	Rezip(productDir, version, excludeSuffix string) (string, error)
}

type Signer interface {
	SignZipFiles(ctx context.Context, sourceDir string) (string, error)
}

type SiteTool interface {
	Optimize(ctx context.Context, inputDir, version string) (string, error)
	Pack(ctx context.Context, inputDir, version string) (string, error)
	PublishMetadata(ctx context.Context, siteDir, version string) ([]string, error)
	RunPostProcess(ctx context.Context, scriptPath, siteDir, version string) error
}

type Verifier interface {
	VerifySite(ctx context.Context, siteDir string, expectSigned bool) (*verify.Report, error)
}

type Checksummer interface {
	WriteAll(artifacts []string) ([]string, error)
}

type Deployer interface {
	Deploy(ctx context.Context, productDir, subproduct string) (*mirror.Deployment, error)
	Record(dep *mirror.Deployment, drop string, existing []string) error
}

// Settings select what a run does and where.
type Settings struct {
	DropLocation string
	Subproduct   string

	BaseDir string
	SignDir string

	// EclipseVersion selects the p2 toolset used for packing, optimizing and publishing.
	EclipseVersion string

	Sign     bool
	Pack     bool
	Optimize bool

	// Deploy makes this a deploy-only run. All transforms are skipped.
	Deploy     bool
	DirsToSave int

	PostProcessScript string
}

// ErrInvalidSettings is wrapped by the errors New returns for settings that would let a
// run write or delete outside its own directories.
var ErrInvalidSettings = errors.New("invalid settings")

// ValidateSubproduct accepts only a single directory name, so that base_dir/<subproduct>
// stays a child of the base dir.
func ValidateSubproduct(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: subproduct %q is not a single directory name", ErrInvalidSettings, name)
	}
	return nil
}

// overlaps reports whether a and b are the same directory or one contains the other.
func overlaps(a, b string) bool {
	a, b = absPath(a), absPath(b)
	return within(a, b) || within(b, a)
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// ProductDir is the staging area of the subproduct.
func (s Settings) ProductDir() string {
	return filepath.Join(s.BaseDir, s.Subproduct)
}

type Pipeline struct {
	Settings

	Archiver    Archiver
	Signer      Signer
	SiteTool    SiteTool
	Verifier    Verifier
	Checksummer Checksummer
	Deployer    Deployer

	Telemeter *telemetry.Telemeter

	Logger logr.Logger

	fs    vfs.FS
	files *fsutil.Files
}

type Option interface {
	SetOption(p *Pipeline) error
}

type optionFunc func(p *Pipeline) error

func (f optionFunc) SetOption(p *Pipeline) error {
	return f(p)
}

func Logger(l logr.Logger) Option {
	return optionFunc(func(p *Pipeline) error {
		p.Logger = l
		return nil
	})
}

func FS(fs vfs.FS) Option {
	return optionFunc(func(p *Pipeline) error {
		p.fs = fs
		return nil
	})
}

func WithArchiver(a Archiver) Option {
	return optionFunc(func(p *Pipeline) error {
		p.Archiver = a
		return nil
	})
}

func WithSigner(s Signer) Option {
	return optionFunc(func(p *Pipeline) error {
		p.Signer = s
		return nil
	})
}

func WithSiteTool(t SiteTool) Option {
	return optionFunc(func(p *Pipeline) error {
		p.SiteTool = t
		return nil
	})
}

func WithVerifier(v Verifier) Option {
	return optionFunc(func(p *Pipeline) error {
		p.Verifier = v
		return nil
	})
}

func WithChecksummer(c Checksummer) Option {
	return optionFunc(func(p *Pipeline) error {
		p.Checksummer = c
		return nil
	})
}

func WithDeployer(d Deployer) Option {
	return optionFunc(func(p *Pipeline) error {
		p.Deployer = d
		return nil
	})
}

func WithTelemeter(t *telemetry.Telemeter) Option {
	return optionFunc(func(p *Pipeline) error {
		p.Telemeter = t
		return nil
	})
}

func New(s Settings, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{Settings: s}

	for _, o := range opts {
		if err := o.SetOption(p); err != nil {
			return nil, err
		}
	}

	if p.Logger == nil {
		p.Logger = klogr.New()
	}
	if p.fs == nil {
		p.fs = vfs.HostOSFS
	}
	p.files = fsutil.New(p.fs, p.Logger)

	if p.Deploy {
		p.Sign, p.Pack, p.Optimize = false, false, false
	}

	if err := p.validate(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Pipeline) validate() error {
	if p.Subproduct == "" {
		return fmt.Errorf("pipeline: subproduct is required")
	}
	if p.BaseDir == "" {
		return fmt.Errorf("pipeline: base dir is required")
	}
	if p.SignDir == "" {
		return fmt.Errorf("pipeline: sign dir is required")
	}
	if err := ValidateSubproduct(p.Subproduct); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if overlaps(p.SignDir, p.ProductDir()) {
		return fmt.Errorf("pipeline: %w: sign dir %s overlaps staging area %s", ErrInvalidSettings, p.SignDir, p.ProductDir())
	}
	if !p.Deploy && p.DropLocation != "" {
		for _, dir := range []string{p.ProductDir(), p.SignDir} {
			if overlaps(p.DropLocation, dir) {
				return fmt.Errorf("pipeline: %w: drop location %s overlaps %s", ErrInvalidSettings, p.DropLocation, dir)
			}
		}
	}

	var missing []string
	if p.Deploy {
		if p.Deployer == nil {
			missing = append(missing, "deployer")
		}
	} else {
		if p.DropLocation == "" {
			return fmt.Errorf("pipeline: drop location is required")
		}
		if p.Archiver == nil {
			missing = append(missing, "archiver")
		}
		if p.Sign && p.Signer == nil {
			missing = append(missing, "signer")
		}
		if p.SiteTool == nil {
			missing = append(missing, "site tool")
		}
		if p.Verifier == nil {
			missing = append(missing, "verifier")
		}
		if p.Checksummer == nil {
			missing = append(missing, "checksummer")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("pipeline: missing collaborators: %v", missing)
	}
	return nil
}

// Result describes what a run did, including how far a failed run got.
type Result struct {
	// Stages lists the executed states in order.
	Stages []State
	State  State

	Versions     []string
	Zips         []string
	Checksums    []string
	Published    []string
	Verification *verify.Report

	Deployment *mirror.Deployment
	Pruned     []string
}

func (r *Result) executed(s State) {
	r.Stages = append(r.Stages, s)
	r.State = s
}
