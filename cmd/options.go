package cmd

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/variantdev/wbstage/pkg/config"
	"github.com/variantdev/wbstage/pkg/semver"
)

// options are the command line flags. Flags that were not set explicitly fall back to
// the config file, and then to the defaults of the config package.
type options struct {
	sign     bool
	pack     bool
	optimize bool
	deploy   bool

	signDir    string
	deployDir  string
	baseDir    string
	archiveDir string
	installDir string

	eclipseVersion string
	dirsToSave     int

	mockSign bool
	selfSign bool

	alias             string
	postProcessScript string
	mirrorsURL        string

	configFile     string
	patches        []string
	metricsPushURL string
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	d := config.Default()

	fs.BoolVar(&o.sign, "sign", *d.Stages.Sign, "sign the artifacts of the drop")
	fs.BoolVar(&o.pack, "pack", *d.Stages.Pack, "pack200 the artifacts of the drop")
	fs.BoolVar(&o.optimize, "optimize", *d.Stages.Optimize, "repack the artifacts of the drop for pack200")
	fs.BoolVar(&o.deploy, "deploy", false, "deploy the staged product to the mirror instead of staging the drop")

	fs.StringVar(&o.signDir, "sign-dir", d.SignDir, "scratch directory for signing, packing and optimizing")
	fs.StringVar(&o.deployDir, "deploy-dir", d.DeployDir, "root of the public mirror")
	fs.StringVar(&o.baseDir, "base-dir", d.BaseDir, "directory holding the staging area of each subproduct")
	fs.StringVar(&o.archiveDir, "archive-dir", d.ArchiveDir, "directory holding the eclipse-<version>.tar.gz toolsets")
	fs.StringVar(&o.installDir, "install-dir", "", "directory the toolsets are extracted into (default <archive-dir>/install)")

	fs.StringVar(&o.eclipseVersion, "eclipse-version", d.EclipseVersion, "eclipse version of the p2 toolset")
	fs.IntVar(&o.dirsToSave, "dirs-to-save", d.DirsToSave, "number of previous deployments to keep")

	fs.BoolVar(&o.mockSign, "mock-sign", false, "copy artifacts instead of signing them")
	fs.BoolVar(&o.selfSign, "self-sign", false, "sign artifacts locally with jarsigner")

	fs.StringVar(&o.alias, "alias", d.Alias, "name of the deployment directory that always holds the newest deployment")
	fs.StringVar(&o.postProcessScript, "post-process-script", "", "ant script run against every update site after publishing")
	fs.StringVar(&o.mirrorsURL, "mirrors-url", "", "template of the mirrorsURL written into site.xml on deploy")

	fs.StringVarP(&o.configFile, "config", "c", "", "path to the config file")
	fs.StringArrayVar(&o.patches, "patch", nil, "RFC 6902 JSON patch applied to the config file. Can be repeated")
	fs.StringVar(&o.metricsPushURL, "metrics-push-url", "", "prometheus pushgateway to push run metrics to")
}

// merge overlays the explicitly set flags onto conf.
func (o *options) merge(fs *pflag.FlagSet, conf *config.Config) {
	set := func(name string, f func()) {
		if fs.Changed(name) {
			f()
		}
	}

	set("sign", func() { conf.Stages.Sign = &o.sign })
	set("pack", func() { conf.Stages.Pack = &o.pack })
	set("optimize", func() { conf.Stages.Optimize = &o.optimize })

	set("sign-dir", func() { conf.SignDir = o.signDir })
	set("deploy-dir", func() { conf.DeployDir = o.deployDir })
	set("base-dir", func() { conf.BaseDir = o.baseDir })
	set("archive-dir", func() { conf.ArchiveDir = o.archiveDir })
	set("install-dir", func() { conf.InstallDir = o.installDir })

	set("eclipse-version", func() { conf.EclipseVersion = o.eclipseVersion })
	set("dirs-to-save", func() { conf.DirsToSave = o.dirsToSave })

	set("alias", func() { conf.Alias = o.alias })
	set("post-process-script", func() { conf.PostProcessScript = o.postProcessScript })
	set("mirrors-url", func() { conf.MirrorsURL = o.mirrorsURL })
	set("metrics-push-url", func() { conf.MetricsPushURL = o.metricsPushURL })

	switch {
	case o.mockSign:
		conf.Signing.Strategy = "mock"
	case o.selfSign:
		conf.Signing.Strategy = "self"
	}
}

func (o *options) validate() error {
	if o.mockSign && o.selfSign {
		return fmt.Errorf("--mock-sign and --self-sign are mutually exclusive")
	}
	return nil
}

func validateConfig(conf *config.Config) error {
	if conf.DirsToSave < 1 {
		return fmt.Errorf("dirs to save must be at least 1, got %d", conf.DirsToSave)
	}
	if !semver.IsEclipse(conf.EclipseVersion) {
		return fmt.Errorf("invalid eclipse version %q", conf.EclipseVersion)
	}
	if conf.Alias == "" || (conf.Alias[0] >= '0' && conf.Alias[0] <= '9') {
		return fmt.Errorf("invalid alias %q: must not be empty or start with a digit", conf.Alias)
	}
	return nil
}
