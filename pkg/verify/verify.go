// Package verify audits packed update-site artifacts. Every *.pack.gz is unpacked and its
// signature checked; failures are collected instead of stopping at the first broken artifact.
package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/wbstage/pkg/fsutil"
	"github.com/variantdev/wbstage/pkg/shell"
	"go.uber.org/multierr"
	"k8s.io/klog/klogr"
)

const (
	PackSuffix = ".pack.gz"

	// verifiedMarker is printed by jarsigner when every entry of the jar is signed
	verifiedMarker = "jar verified."
)

// Failure describes one artifact that did not pass verification.
type Failure struct {
	Artifact string
	Reason   string
	Err      error
}

func (f Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Artifact, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Artifact, f.Reason)
}

func (f Failure) Unwrap() error {
	return f.Err
}

type Report struct {
	Checked  []string
	Failures []Failure
}

func (r *Report) OK() bool {
	return r == nil || len(r.Failures) == 0
}

// Err combines all failures into one error, or returns nil when there are none.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

type Verifier struct {
	// TempRoot is where the scoped working directory is created. Defaults to os.TempDir().
	TempRoot string

	Unpack200 string
	Jarsigner string

	Logger logr.Logger

	files *fsutil.Files
	sh    *shell.Shell
}

type Option interface {
	SetOption(v *Verifier) error
}

type optionFunc func(v *Verifier) error

func (f optionFunc) SetOption(v *Verifier) error {
	return f(v)
}

func Logger(l logr.Logger) Option {
	return optionFunc(func(v *Verifier) error {
		v.Logger = l
		return nil
	})
}

func FS(fs vfs.FS) Option {
	return optionFunc(func(v *Verifier) error {
		v.files = fsutil.New(fs, nil)
		return nil
	})
}

func Exec(e shell.Exec) Option {
	return optionFunc(func(v *Verifier) error {
		v.sh = &shell.Shell{Exec: e}
		return nil
	})
}

func TempRoot(dir string) Option {
	return optionFunc(func(v *Verifier) error {
		v.TempRoot = dir
		return nil
	})
}

func New(opts ...Option) (*Verifier, error) {
	v := &Verifier{}

	for _, o := range opts {
		if err := o.SetOption(v); err != nil {
			return nil, err
		}
	}

	if v.Logger == nil {
		v.Logger = klogr.New()
	}
	if v.files == nil {
		v.files = fsutil.New(vfs.HostOSFS, nil)
	}
	v.files.Logger = v.Logger
	if v.sh == nil {
		v.sh = &shell.Shell{Exec: shell.DefaultExec}
	}
	v.sh.Logger = v.Logger
	if v.TempRoot == "" {
		v.TempRoot = os.TempDir()
	}
	if v.Unpack200 == "" {
		v.Unpack200 = "unpack200"
	}
	if v.Jarsigner == "" {
		v.Jarsigner = "jarsigner"
	}

	return v, nil
}

// VerifySite unpacks every packed artifact below siteDir and, when expectSigned is set,
// verifies its signature. The returned error is non-nil only when verification itself
// could not be carried out.
func (v *Verifier) VerifySite(ctx context.Context, siteDir string, expectSigned bool) (*Report, error) {
	var packed []string
	isPacked := fsutil.And(fsutil.IsRegular, fsutil.HasSuffix(PackSuffix))
	err := v.files.Walk(siteDir, func(rel string, fi os.FileInfo) error {
		if isPacked(fi) {
			packed = append(packed, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify: searching %s: %w", siteDir, err)
	}
	sort.Strings(packed)

	report := &Report{}
	if len(packed) == 0 {
		v.Logger.Info("no packed artifacts to verify", "site", siteDir)
		return report, nil
	}

	work := filepath.Join(v.TempRoot, "wbstage-verify-"+uuid.New().String())
	if err := v.files.EnsureDir(work); err != nil {
		return nil, err
	}
	defer func() {
		if err := v.files.RemoveTree(work); err != nil {
			v.Logger.Error(err, "removing verification work dir", "dir", work)
		}
	}()

	for i, rel := range packed {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		artifact := filepath.Join(siteDir, rel)
		report.Checked = append(report.Checked, artifact)

		jar := filepath.Join(work, fmt.Sprintf("%04d-%s", i, strings.TrimSuffix(filepath.Base(rel), PackSuffix)))
		if f := v.check(artifact, jar, expectSigned); f != nil {
			v.Logger.V(1).Info("verification failed", "artifact", artifact, "reason", f.Reason)
			report.Failures = append(report.Failures, *f)
		}
	}

	v.logReport(siteDir, report)

	return report, nil
}

func (v *Verifier) check(artifact, jar string, expectSigned bool) *Failure {
	rawArtifact, err := v.files.RawPath(artifact)
	if err != nil {
		return &Failure{Artifact: artifact, Reason: "resolving path", Err: err}
	}
	rawJar, err := v.files.RawPath(jar)
	if err != nil {
		return &Failure{Artifact: artifact, Reason: "resolving path", Err: err}
	}

	unpack := &shell.Command{Name: v.Unpack200, Args: []string{rawArtifact, rawJar}}
	if err := v.sh.Run(unpack); err != nil {
		return &Failure{Artifact: artifact, Reason: "unpack200 failed", Err: err}
	}

	if !expectSigned {
		v.Logger.V(1).Info("would verify signature", "artifact", artifact, "jar", jar)
		return nil
	}

	out, err := v.sh.Output(&shell.Command{Name: v.Jarsigner, Args: []string{"-verify", rawJar}})
	if err != nil {
		return &Failure{Artifact: artifact, Reason: "jarsigner -verify failed", Err: err}
	}
	if !strings.Contains(out, verifiedMarker) {
		return &Failure{Artifact: artifact, Reason: "not signed: " + strings.TrimSpace(out)}
	}
	return nil
}

func (v *Verifier) logReport(siteDir string, r *Report) {
	if r.OK() {
		v.Logger.Info("verification passed", "site", siteDir, "artifacts", len(r.Checked))
		return
	}
	v.Logger.Info("verification failed", "site", siteDir, "artifacts", len(r.Checked), "failures", len(r.Failures))
	for _, f := range r.Failures {
		v.Logger.Info("  " + f.Error())
	}
}
