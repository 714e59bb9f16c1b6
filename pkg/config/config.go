// Package config loads the optional wbstage configuration file. The file is YAML,
// overlaid with zero or more JSON patches, validated against a JSON schema and
// completed with defaults. Command line flags take precedence over everything here.
package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/twpayne/go-vfs"
	"github.com/variantdev/wbstage/pkg/signing"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseDir    string `yaml:"baseDir,omitempty"`
	SignDir    string `yaml:"signDir,omitempty"`
	DeployDir  string `yaml:"deployDir,omitempty"`
	ArchiveDir string `yaml:"archiveDir,omitempty"`
	InstallDir string `yaml:"installDir,omitempty"`

	EclipseVersion    string   `yaml:"eclipseVersion,omitempty"`
	SupportedVersions []string `yaml:"supportedVersions,omitempty"`

	Stages Stages `yaml:"stages"`

	DirsToSave int    `yaml:"dirsToSave,omitempty"`
	Alias      string `yaml:"alias,omitempty"`
	MirrorsURL string `yaml:"mirrorsURL,omitempty"`

	PostProcessScript string `yaml:"postProcessScript,omitempty"`

	Signing Signing `yaml:"signing"`

	MetricsPushURL string `yaml:"metricsPushURL,omitempty"`
}

type Stages struct {
	Sign     *bool `yaml:"sign,omitempty"`
	Pack     *bool `yaml:"pack,omitempty"`
	Optimize *bool `yaml:"optimize,omitempty"`
}

type Signing struct {
	Strategy     string   `yaml:"strategy,omitempty"`
	Command      []string `yaml:"command,omitempty"`
	PollInterval string   `yaml:"pollInterval,omitempty"`
	PollAttempts int      `yaml:"pollAttempts,omitempty"`
	Keystore     string   `yaml:"keystore,omitempty"`
	StorePass    string   `yaml:"storePass,omitempty"`
	KeyAlias     string   `yaml:"keyAlias,omitempty"`
}

// StrategyConfig converts the signing section into what signing.NewStrategy expects.
func (s Signing) StrategyConfig() signing.Config {
	return signing.Config{
		Kind:         signing.Kind(s.Strategy),
		Command:      s.Command,
		PollInterval: s.PollInterval,
		PollAttempts: s.PollAttempts,
		Keystore:     s.Keystore,
		StorePass:    s.StorePass,
		Alias:        s.KeyAlias,
	}
}

func boolPtr(b bool) *bool {
	return &b
}

// Default returns the configuration used when neither a file nor flags say otherwise.
func Default() *Config {
	return &Config{
		BaseDir:        "staging",
		SignDir:        filepath.Join("staging", "sign"),
		DeployDir:      "deploy",
		ArchiveDir:     "archives",
		EclipseVersion: "3.7",
		Stages: Stages{
			Sign:     boolPtr(true),
			Pack:     boolPtr(false),
			Optimize: boolPtr(false),
		},
		DirsToSave: 3,
		Alias:      "integration",
		Signing: Signing{
			Strategy: string(signing.KindExternal),
		},
	}
}

// Load reads the file at path, applies patches in order, validates and fills defaults.
// An empty path yields the defaults.
func Load(fs vfs.FS, path string, patches ...string) (*Config, error) {
	if path == "" {
		if len(patches) > 0 {
			return nil, fmt.Errorf("config patches need a config file")
		}
		return Default(), nil
	}

	bs, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return Parse(bs, patches...)
}

func Parse(bs []byte, patches ...string) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(bs, &doc); err != nil {
		return nil, fmt.Errorf("unmarshalling yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return Default(), nil
	}

	for i, p := range patches {
		if err := applyPatch(&doc, p); err != nil {
			return nil, fmt.Errorf("applying patch %d: %w", i, err)
		}
	}

	var values interface{}
	if err := doc.Decode(&values); err != nil {
		return nil, err
	}
	if err := validate(values); err != nil {
		return nil, err
	}

	conf := &Config{}
	if err := doc.Decode(conf); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	conf.complete()

	return conf, nil
}

// complete fills every setting the file left out with its default.
func (c *Config) complete() {
	d := Default()
	setString := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	setString(&c.BaseDir, d.BaseDir)
	setString(&c.SignDir, d.SignDir)
	setString(&c.DeployDir, d.DeployDir)
	setString(&c.ArchiveDir, d.ArchiveDir)
	setString(&c.EclipseVersion, d.EclipseVersion)
	setString(&c.Alias, d.Alias)
	setString(&c.Signing.Strategy, d.Signing.Strategy)

	if c.DirsToSave == 0 {
		c.DirsToSave = d.DirsToSave
	}
	if c.Stages.Sign == nil {
		c.Stages.Sign = d.Stages.Sign
	}
	if c.Stages.Pack == nil {
		c.Stages.Pack = d.Stages.Pack
	}
	if c.Stages.Optimize == nil {
		c.Stages.Optimize = d.Stages.Optimize
	}
}

func (c *Config) Marshal() (string, error) {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(c); err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}

	return buf.String(), nil
}

func validate(values interface{}) error {
	schemaLoader := gojsonschema.NewStringLoader(schema)
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(values))
	if err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	if result.Valid() {
		return nil
	}
	var msgs []string
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
