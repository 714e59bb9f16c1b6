package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/variantdev/wbstage/pkg/fsutil"
	"github.com/variantdev/wbstage/pkg/mirror"
	"github.com/variantdev/wbstage/pkg/retention"
	"github.com/variantdev/wbstage/pkg/semver"
	"github.com/variantdev/wbstage/pkg/telemetry"
	"github.com/variantdev/wbstage/pkg/verify"
	"go.opentelemetry.io/api/core"
)

// Run executes the pipeline. On failure the returned Result tells how far the run got
// and the error is a *StageError naming the failed state.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	res.executed(StateInit)

	p.Logger.Info("starting run",
		"subproduct", p.Subproduct,
		"drop", p.DropLocation,
		"deploy", p.Deploy,
		"sign", p.Sign,
		"pack", p.Pack,
		"optimize", p.Optimize,
	)

	err := p.Telemeter.WithSpan(ctx, telemetry.KindRun, p.Subproduct, func(ctx context.Context) error {
		defer p.cleanup(res)

		if p.Deploy {
			return p.runDeploy(ctx, res)
		}
		return p.runStaging(ctx, res)
	})

	if err := p.Telemeter.Push(); err != nil {
		p.Logger.Error(err, "pushing metrics")
	}

	if err != nil {
		p.Logger.Error(err, "run failed", "subproduct", p.Subproduct, "stages", res.Stages)
		res.State = StateFailed
		return res, err
	}

	p.Logger.Info("run finished", "subproduct", p.Subproduct, "state", res.State)

	return res, nil
}

// cleanup removes the sign directory. Failing to do so is logged, never returned.
func (p *Pipeline) cleanup(res *Result) {
	state := res.State
	if err := p.files.RemoveTree(p.SignDir); err != nil {
		p.Logger.Error(err, "removing sign dir", "dir", p.SignDir)
	}
	res.Stages = append(res.Stages, StateCleanup)
	res.State = state
}

func (p *Pipeline) stage(ctx context.Context, res *Result, s State, f func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &StageError{State: s, Err: err}
	}

	p.Logger.Info("stage", "state", s)

	err := p.Telemeter.WithSpan(ctx, telemetry.KindStage, string(s), f)
	if err != nil {
		return &StageError{State: s, Err: err}
	}

	res.executed(s)
	return nil
}

func (p *Pipeline) runStaging(ctx context.Context, res *Result) error {
	productDir := p.ProductDir()

	type step struct {
		state State
		run   func(ctx context.Context) error
		skip  bool
	}

	steps := []step{
		{state: StateStage, run: func(ctx context.Context) error { return p.stageDrop(productDir) }},
		{state: StateSign, skip: !p.Sign, run: func(ctx context.Context) error {
			return p.transform(func() (string, error) { return p.Signer.SignZipFiles(ctx, p.SignDir) })
		}},
		{state: StatePack, skip: !p.Pack, run: func(ctx context.Context) error {
			return p.transform(func() (string, error) { return p.SiteTool.Pack(ctx, p.SignDir, p.EclipseVersion) })
		}},
		{state: StateOptimize, skip: !p.Optimize, run: func(ctx context.Context) error {
			return p.transform(func() (string, error) { return p.SiteTool.Optimize(ctx, p.SignDir, p.EclipseVersion) })
		}},
		{state: StateMerge, run: func(ctx context.Context) error { return p.merge(productDir) }},
		{state: StateUnzip, run: func(ctx context.Context) error {
			versions, err := p.unzipSites(productDir)
			res.Versions = versions
			return err
		}},
		{state: StatePublishMetadata, run: func(ctx context.Context) error {
			if len(res.Versions) == 0 {
				p.Logger.V(1).Info("no update sites to publish")
				return nil
			}
			published, err := p.SiteTool.PublishMetadata(ctx, productDir, p.EclipseVersion)
			res.Published = published
			return err
		}},
		{state: StatePostProcess, skip: p.PostProcessScript == "", run: func(ctx context.Context) error {
			return p.SiteTool.RunPostProcess(ctx, p.PostProcessScript, productDir, p.EclipseVersion)
		}},
		{state: StateVerify, run: func(ctx context.Context) error {
			report, err := p.Verifier.VerifySite(ctx, productDir, p.Sign)
			if err != nil {
				return err
			}
			res.Verification = report
			for _, f := range report.Failures {
				p.Telemeter.AddTraceEvent(ctx, "verification failure",
					core.Key{Name: "artifact"}.String(f.Artifact),
					core.Key{Name: "reason"}.String(f.Reason),
				)
			}
			if !report.OK() {
				p.Logger.Error(report.Err(), "verification failed, continuing", "failures", len(report.Failures))
			}
			return nil
		}},
		{state: StateRezip, run: func(ctx context.Context) error {
			for _, v := range res.Versions {
				zip, err := p.Archiver.Rezip(productDir, v, verify.PackSuffix)
				if err != nil {
					return err
				}
				if zip != "" {
					res.Zips = append(res.Zips, zip)
				}
			}
			return nil
		}},
		{state: StateChecksum, run: func(ctx context.Context) error {
			sums, err := p.Checksummer.WriteAll(res.Zips)
			res.Checksums = sums
			return err
		}},
	}

	for _, s := range steps {
		if s.skip {
			p.Logger.V(1).Info("skipping stage", "state", s.state)
			continue
		}
		if err := p.stage(ctx, res, s.state, s.run); err != nil {
			return err
		}
	}

	res.executed(StateStaged)
	return nil
}

// stageDrop recreates the staging area and the sign directory, copies the drop into the
// former and moves its zips into the latter.
func (p *Pipeline) stageDrop(productDir string) error {
	if err := p.files.Recreate(productDir); err != nil {
		return err
	}
	if err := p.files.Recreate(p.SignDir); err != nil {
		return err
	}
	copied, err := p.files.CopyFiles(p.DropLocation, productDir, nil)
	if err != nil {
		return err
	}
	moved, err := p.files.MoveFiles(productDir, p.SignDir, fsutil.IsZip)
	if err != nil {
		return err
	}
	p.Logger.Info("staged drop", "files", len(copied), "zips", len(moved))
	return nil
}

// transform runs one sign, pack or optimize pass over the sign directory and merges its
// output directory back into the sign directory.
func (p *Pipeline) transform(run func() (string, error)) error {
	out, err := run()
	if err != nil {
		return err
	}
	if _, err := p.files.MoveFiles(out, p.SignDir, nil); err != nil {
		return err
	}
	return p.files.RemoveTree(out)
}

func (p *Pipeline) merge(productDir string) error {
	names, err := p.files.List(p.SignDir, nil)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		p.Logger.V(1).Info("sign dir is empty, nothing to merge")
		return nil
	}
	_, err = p.files.MoveFiles(p.SignDir, productDir, nil)
	return err
}

// unzipSites extracts every <version>.zip of productDir into productDir/<version> and
// removes the zip. It returns the versions in ascending order.
func (p *Pipeline) unzipSites(productDir string) ([]string, error) {
	zips, err := p.files.List(productDir, fsutil.IsZip)
	if err != nil {
		return nil, err
	}

	var versions []string
	for _, z := range zips {
		v := strings.TrimSuffix(z, ".zip")
		if !semver.IsEclipse(v) {
			p.Logger.V(1).Info("not an update site archive", "file", z)
			continue
		}
		zip := filepath.Join(productDir, z)
		if err := p.Archiver.Unarchive(zip, filepath.Join(productDir, v)); err != nil {
			return versions, err
		}
		if err := p.fs.Remove(zip); err != nil && !os.IsNotExist(err) {
			return versions, err
		}
		versions = append(versions, v)
	}

	return semver.Sort(versions)
}

func (p *Pipeline) runDeploy(ctx context.Context, res *Result) error {
	var dep *mirror.Deployment

	err := p.stage(ctx, res, StateDeploy, func(ctx context.Context) error {
		d, err := p.Deployer.Deploy(ctx, p.ProductDir(), p.Subproduct)
		if err != nil {
			return err
		}
		dep = d
		res.Deployment = d
		return nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, res, StatePrune, func(ctx context.Context) error {
		// the new deployment is excluded, so DirsToSave previous ones survive next to it
		pruned, err := retention.Prune(p.fs, dep.Root, p.DirsToSave, p.Logger, dep.Name)
		res.Pruned = pruned
		if err != nil {
			return err
		}
		existing, err := retention.Candidates(p.fs, dep.Root)
		if err != nil {
			return err
		}
		return p.Deployer.Record(dep, p.DropLocation, existing)
	})
	if err != nil {
		return err
	}

	res.executed(StateDeployed)
	return nil
}
