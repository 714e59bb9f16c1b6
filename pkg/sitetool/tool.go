package sitetool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/wbstage/pkg/fsutil"
	"github.com/variantdev/wbstage/pkg/semver"
	"github.com/variantdev/wbstage/pkg/shell"
	"k8s.io/klog/klogr"
)

const (
	// OutDirName is the directory below the input directory receiving optimizer and packer output.
	OutDirName = "out"

	launcherPrefix = "org.eclipse.equinox.launcher_"

	appSiteOptimizer = "org.eclipse.update.core.siteOptimizer"
	appPublisher     = "org.eclipse.equinox.p2.publisher.UpdateSitePublisher"
)

// p2Sites matches the update site versions that carry p2 metadata. Older sites only
// have site.xml.
const p2Sites = ">= 3.4"

// DefaultSupportedVersions are the update site versions that get p2 metadata published.
var DefaultSupportedVersions = []string{"3.4", "3.5", "3.6", "3.7", "3.8", "4.2"}

// metadataFiles are the p2 repository index files regenerated by PublishMetadata.
var metadataFiles = []string{"content.xml", "content.jar", "artifacts.xml", "artifacts.jar"}

// ToolError reports a failed invocation of an external site tool.
type ToolError struct {
	Op     string
	Target string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Tool runs the Eclipse p2 applications of an installed toolset against update sites.
type Tool struct {
	Installer *Installer

	Java              string
	SupportedVersions []string

	Logger logr.Logger

	files *fsutil.Files
	sh    *shell.Shell
}

type Option interface {
	SetOption(t *Tool) error
}

type optionFunc func(t *Tool) error

func (f optionFunc) SetOption(t *Tool) error {
	return f(t)
}

func Logger(l logr.Logger) Option {
	return optionFunc(func(t *Tool) error {
		t.Logger = l
		return nil
	})
}

func FS(fs vfs.FS) Option {
	return optionFunc(func(t *Tool) error {
		t.files = fsutil.New(fs, nil)
		return nil
	})
}

func Exec(e shell.Exec) Option {
	return optionFunc(func(t *Tool) error {
		t.sh = &shell.Shell{Exec: e}
		return nil
	})
}

func Java(path string) Option {
	return optionFunc(func(t *Tool) error {
		t.Java = path
		return nil
	})
}

func SupportedVersions(vs []string) Option {
	return optionFunc(func(t *Tool) error {
		t.SupportedVersions = vs
		return nil
	})
}

func New(installer *Installer, opts ...Option) (*Tool, error) {
	t := &Tool{Installer: installer}

	for _, o := range opts {
		if err := o.SetOption(t); err != nil {
			return nil, err
		}
	}

	if t.Installer == nil {
		return nil, fmt.Errorf("sitetool: installer is required")
	}
	if t.Logger == nil {
		t.Logger = klogr.New()
	}
	if t.files == nil {
		t.files = fsutil.New(vfs.HostOSFS, nil)
	}
	t.files.Logger = t.Logger
	if t.sh == nil {
		t.sh = &shell.Shell{Exec: shell.DefaultExec}
	}
	t.sh.Logger = t.Logger
	if t.Java == "" {
		t.Java = "java"
	}
	if len(t.SupportedVersions) == 0 {
		t.SupportedVersions = DefaultSupportedVersions
	}

	return t, nil
}

// Optimize repacks every artifact of inputDir for pack200 into inputDir/out and returns that directory.
func (t *Tool) Optimize(ctx context.Context, inputDir, version string) (string, error) {
	return t.processAll(ctx, "optimize", inputDir, version, "-repack")
}

// Pack compresses every artifact of inputDir with pack200 into inputDir/out and returns that directory.
func (t *Tool) Pack(ctx context.Context, inputDir, version string) (string, error) {
	return t.processAll(ctx, "pack", inputDir, version, "-pack")
}

func (t *Tool) processAll(ctx context.Context, op, inputDir, version, mode string) (string, error) {
	artifacts, err := t.files.List(inputDir, fsutil.IsRegular)
	if err != nil {
		return "", fmt.Errorf("%s: listing %s: %w", op, inputDir, err)
	}
	if len(artifacts) == 0 {
		return "", fmt.Errorf("%s %s: %w", op, inputDir, fsutil.ErrNoInput)
	}

	outDir := filepath.Join(inputDir, OutDirName)
	if err := t.files.EnsureDir(outDir); err != nil {
		return "", err
	}
	rawOut, err := t.files.RawPath(outDir)
	if err != nil {
		return "", err
	}

	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		artifact := filepath.Join(inputDir, a)
		rawArtifact, err := t.files.RawPath(artifact)
		if err != nil {
			return "", err
		}
		t.Logger.Info(op, "artifact", artifact, "version", version)
		err = t.launch(version, appSiteOptimizer, rawOut,
			"-jarProcessor", "-verbose", "-processAll", mode, "-outputDir", rawOut, rawArtifact)
		if err != nil {
			return "", &ToolError{Op: op, Target: artifact, Err: err}
		}
	}

	return outDir, nil
}

// PublishMetadata regenerates the p2 metadata of every supported update site found below
// siteDir. It returns the versions that were published.
func (t *Tool) PublishMetadata(ctx context.Context, siteDir, version string) ([]string, error) {
	var published []string

	for _, v := range t.SupportedVersions {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		dir := filepath.Join(siteDir, v)
		if !t.files.DirExists(dir) {
			continue
		}
		p2, err := semver.Satisfies(v, p2Sites)
		if err != nil {
			return published, fmt.Errorf("publish: supported version: %w", err)
		}
		if !p2 {
			t.Logger.V(1).Info("skipping pre-p2 update site", "site", dir)
			continue
		}

		for _, f := range metadataFiles {
			if err := t.files.RemoveTree(filepath.Join(dir, f)); err != nil {
				return published, err
			}
		}

		raw, err := t.files.RawPath(dir)
		if err != nil {
			return published, err
		}
		repo := "file:" + raw

		t.Logger.Info("publishing p2 metadata", "site", dir, "toolset", version)
		err = t.launch(version, appPublisher, raw,
			"-metadataRepository", repo,
			"-artifactRepository", repo,
			"-source", raw,
			"-publishArtifacts",
			"-reusePack200Files",
		)
		if err != nil {
			return published, &ToolError{Op: "publish", Target: dir, Err: err}
		}
		published = append(published, v)
	}

	return published, nil
}

// RunPostProcess runs the ant script once against every subdirectory of siteDir.
func (t *Tool) RunPostProcess(ctx context.Context, scriptPath, siteDir, version string) error {
	dirs, err := t.files.List(siteDir, fsutil.IsDir)
	if err != nil {
		return fmt.Errorf("post process: listing %s: %w", siteDir, err)
	}

	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := filepath.Join(siteDir, d)
		raw, err := t.files.RawPath(dir)
		if err != nil {
			return err
		}
		t.Logger.Info("post processing", "site", dir, "script", scriptPath)
		cmd := &shell.Command{
			Name: "ant",
			Args: []string{"-f", scriptPath, "-Dsite.dir=" + raw, "-Declipse.version=" + version},
			Dir:  raw,
		}
		if err := t.sh.Run(cmd); err != nil {
			return &ToolError{Op: "post process", Target: dir, Err: err}
		}
	}

	return nil
}

func (t *Tool) launch(version, app, dir string, args ...string) error {
	launcher, err := t.launcher(version)
	if err != nil {
		return err
	}
	cmd := &shell.Command{
		Name: t.Java,
		Args: append([]string{"-jar", launcher, "-nosplash", "-consolelog", "-application", app}, args...),
		Dir:  dir,
	}
	return t.sh.Run(cmd)
}

func (t *Tool) launcher(version string) (string, error) {
	install, err := t.Installer.Install(version)
	if err != nil {
		return "", err
	}

	plugins := filepath.Join(install, "eclipse", "plugins")
	matches, err := t.files.List(plugins, isLauncher)
	if err != nil {
		return "", fmt.Errorf("locating equinox launcher: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no equinox launcher in toolset %s", install)
	}

	// List is sorted, the last match is the newest launcher
	return t.files.RawPath(filepath.Join(plugins, matches[len(matches)-1]))
}

func isLauncher(fi os.FileInfo) bool {
	return fi.Mode().IsRegular() && strings.HasPrefix(fi.Name(), launcherPrefix) && strings.HasSuffix(fi.Name(), ".jar")
}
