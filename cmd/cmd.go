package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danjacques/gofslock/fslock"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/wbstage/pkg/archive"
	"github.com/variantdev/wbstage/pkg/checksum"
	"github.com/variantdev/wbstage/pkg/config"
	"github.com/variantdev/wbstage/pkg/fsutil"
	"github.com/variantdev/wbstage/pkg/loginfra"
	"github.com/variantdev/wbstage/pkg/mirror"
	"github.com/variantdev/wbstage/pkg/pipeline"
	"github.com/variantdev/wbstage/pkg/shell"
	"github.com/variantdev/wbstage/pkg/signing"
	"github.com/variantdev/wbstage/pkg/sitetool"
	"github.com/variantdev/wbstage/pkg/telemetry"
	"github.com/variantdev/wbstage/pkg/verify"
	"k8s.io/klog/klogr"
)

// Exit statuses
const (
	ExitRuntime           = 1
	ExitMissingDrop       = 2
	ExitMissingSubproduct = 3
	ExitTooManyArgs       = 4
	ExitInvalidOption     = 5
	ExitLockHeld          = 6
)

const jobName = "wbstage"

// ExitError carries the exit status of the process.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitf(code int, format string, args ...interface{}) error {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

// ExitCode maps an error returned by the root command to the exit status of the process.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *ExitError
	if errors.As(err, &e) {
		return e.Code
	}
	return ExitRuntime
}

func Execute() {
	log := klogr.New()

	cmd := NewRootCommand(log, vfs.HostOSFS, shell.DefaultExec)

	fs := loginfra.Init()

	// Hand parsing of remaining flags to pflags and cobra
	pflag.CommandLine.AddGoFlagSet(fs)

	if err := cmd.Execute(); err != nil {
		log.Error(err, err.Error())
		os.Exit(ExitCode(err))
	}
}

func positionalArgs(cmd *cobra.Command, args []string) error {
	switch {
	case len(args) == 0:
		return exitf(ExitMissingDrop, "missing drop location")
	case len(args) == 1:
		return exitf(ExitMissingSubproduct, "missing subproduct")
	case len(args) > 2:
		return exitf(ExitTooManyArgs, "too many arguments: %v", args[2:])
	}
	return nil
}

// NewRootCommand builds the wbstage command. All filesystem access goes through fs and
// every external tool is run through exec.
func NewRootCommand(log logr.Logger, fs vfs.FS, exec shell.Exec) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "wbstage [flags] DROP_LOCATION SUBPRODUCT",
		Short: "Stage a WindowBuilder build drop as Eclipse update sites and deploy it to the mirror",
		Args:  positionalArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(fs, opts, cmd.Flags())
			if err != nil {
				return &ExitError{Code: ExitInvalidOption, Err: err}
			}

			return run(context.Background(), log, fs, exec, conf, opts.deploy, args[0], args[1])
		},
	}

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	opts.addFlags(cmd.Flags())

	return cmd
}

func loadConfig(fs vfs.FS, opts *options, flags *pflag.FlagSet) (*config.Config, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	conf, err := config.Load(fs, opts.configFile, opts.patches...)
	if err != nil {
		return nil, err
	}

	opts.merge(flags, conf)

	if err := validateConfig(conf); err != nil {
		return nil, err
	}

	return conf, nil
}

func run(ctx context.Context, log logr.Logger, fs vfs.FS, exec shell.Exec, conf *config.Config, deploy bool, drop, subproduct string) error {
	files := fsutil.New(fs, log)

	if err := pipeline.ValidateSubproduct(subproduct); err != nil {
		return &ExitError{Code: ExitInvalidOption, Err: err}
	}

	if !deploy && !files.DirExists(drop) {
		return exitf(ExitMissingDrop, "drop location %s does not exist", drop)
	}

	if err := files.EnsureDir(conf.BaseDir); err != nil {
		return err
	}
	lockPath, err := files.RawPath(filepath.Join(conf.BaseDir, "."+subproduct+".lock"))
	if err != nil {
		return err
	}

	p, err := newPipeline(log, fs, exec, conf, deploy, drop, subproduct)
	if errors.Is(err, pipeline.ErrInvalidSettings) {
		return &ExitError{Code: ExitInvalidOption, Err: err}
	}
	if err != nil {
		return err
	}

	var res *pipeline.Result
	err = fslock.With(lockPath, func() error {
		var err error
		res, err = p.Run(ctx)
		return err
	})
	if err == fslock.ErrLockHeld {
		return exitf(ExitLockHeld, "another run holds %s", lockPath)
	}
	if err != nil {
		return err
	}

	if res.Deployment != nil {
		log.Info("deployed", "dir", res.Deployment.Dir, "alias", res.Deployment.AliasDir, "pruned", res.Pruned)
	} else {
		log.Info("staged", "dir", p.ProductDir(), "zips", res.Zips)
	}

	return nil
}

func newPipeline(log logr.Logger, fs vfs.FS, exec shell.Exec, conf *config.Config, deploy bool, drop, subproduct string) (*pipeline.Pipeline, error) {
	settings := pipeline.Settings{
		DropLocation:      drop,
		Subproduct:        subproduct,
		BaseDir:           conf.BaseDir,
		SignDir:           conf.SignDir,
		EclipseVersion:    conf.EclipseVersion,
		Sign:              *conf.Stages.Sign,
		Pack:              *conf.Stages.Pack,
		Optimize:          *conf.Stages.Optimize,
		Deploy:            deploy,
		DirsToSave:        conf.DirsToSave,
		PostProcessScript: conf.PostProcessScript,
	}

	tm, err := telemetry.New(jobName, []telemetry.SpanKind{telemetry.KindRun, telemetry.KindStage},
		telemetry.Logger(log),
		telemetry.PushURL(conf.MetricsPushURL),
		telemetry.Grouping("subproduct", subproduct),
	)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.Logger(log),
		pipeline.FS(fs),
		pipeline.WithTelemeter(tm),
	}

	if deploy {
		deployer, err := mirror.New(conf.DeployDir,
			mirror.FS(fs),
			mirror.Logger(log),
			mirror.Alias(conf.Alias),
			mirror.MirrorsURL(conf.MirrorsURL),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithDeployer(deployer))

		return pipeline.New(settings, opts...)
	}

	arch, err := archive.New(archive.FS(fs), archive.Exec(exec), archive.Logger(log))
	if err != nil {
		return nil, err
	}

	strategy, err := signing.NewStrategy(conf.Signing.StrategyConfig(), fs, exec, log)
	if err != nil {
		return nil, &ExitError{Code: ExitInvalidOption, Err: err}
	}
	signer, err := signing.New(signing.FS(fs), signing.Logger(log), signing.WithStrategy(strategy))
	if err != nil {
		return nil, err
	}

	installerOpts := []sitetool.InstallerOption{
		sitetool.ArchiveDir(conf.ArchiveDir),
		sitetool.InstallerFS(fs),
		sitetool.InstallerLogger(log),
	}
	if conf.InstallDir != "" {
		installerOpts = append(installerOpts, sitetool.InstallRoot(conf.InstallDir))
	}
	installer, err := sitetool.NewInstaller(installerOpts...)
	if err != nil {
		return nil, err
	}
	tool, err := sitetool.New(installer,
		sitetool.FS(fs),
		sitetool.Exec(exec),
		sitetool.Logger(log),
		sitetool.SupportedVersions(conf.SupportedVersions),
	)
	if err != nil {
		return nil, err
	}

	verifier, err := verify.New(verify.FS(fs), verify.Exec(exec), verify.Logger(log))
	if err != nil {
		return nil, err
	}

	sums, err := checksum.New(checksum.FS(fs), checksum.Exec(exec), checksum.Logger(log))
	if err != nil {
		return nil, err
	}

	opts = append(opts,
		pipeline.WithArchiver(arch),
		pipeline.WithSigner(signer),
		pipeline.WithSiteTool(tool),
		pipeline.WithVerifier(verifier),
		pipeline.WithChecksummer(sums),
	)

	return pipeline.New(settings, opts...)
}
