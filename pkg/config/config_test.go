package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kylelemons/godebug/diff"
	"github.com/twpayne/go-vfs/vfst"
	"gopkg.in/yaml.v3"
)

func TestLoad_Defaults(t *testing.T) {
	conf, err := Load(nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(Default(), conf); d != "" {
		t.Errorf("unexpected config: %s", d)
	}
}

func TestLoad(t *testing.T) {
	fs, clean, err := vfst.NewTestFS(map[string]interface{}{
		"/etc/wbstage.yaml": `
baseDir: /home/build/staging
deployDir: /var/www/updates
eclipseVersion: "3.6"
stages:
  pack: true
dirsToSave: 5
signing:
  strategy: mock
`,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer clean()

	conf, err := Load(fs, "/etc/wbstage.yaml")
	if err != nil {
		t.Fatal(err)
	}

	expected := Default()
	expected.BaseDir = "/home/build/staging"
	expected.DeployDir = "/var/www/updates"
	expected.EclipseVersion = "3.6"
	expected.Stages.Pack = boolPtr(true)
	expected.DirsToSave = 5
	expected.Signing.Strategy = "mock"

	if d := cmp.Diff(expected, conf); d != "" {
		t.Errorf("unexpected config: %s", d)
	}
}

func TestParse_Invalid(t *testing.T) {
	testcases := []struct {
		name string
		yaml string
		msg  string
	}{
		{name: "unknown key", yaml: "bogus: 1\n", msg: "bogus"},
		{name: "dirs to save", yaml: "dirsToSave: 0\n", msg: "dirsToSave"},
		{name: "strategy", yaml: "signing:\n  strategy: notary\n", msg: "strategy"},
		{name: "alias", yaml: "alias: 2012\n", msg: "alias"},
		{name: "eclipse version", yaml: "eclipseVersion: juno\n", msg: "eclipseVersion"},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.msg) {
				t.Errorf("error does not mention %s: %v", tc.msg, err)
			}
		})
	}
}

func TestParse_Patches(t *testing.T) {
	conf, err := Parse([]byte("dirsToSave: 5\nalias: integration\n"),
		`[{"op": "replace", "path": "/alias", "value": "latest"}]`,
		`[{"op": "add", "path": "/stages", "value": {"optimize": true}}, {"op": "remove", "path": "/dirsToSave"}]`,
	)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Alias != "latest" {
		t.Errorf("alias not patched: %s", conf.Alias)
	}
	if !*conf.Stages.Optimize || !*conf.Stages.Sign || *conf.Stages.Pack {
		t.Errorf("unexpected stages: %v %v %v", *conf.Stages.Sign, *conf.Stages.Pack, *conf.Stages.Optimize)
	}
	if conf.DirsToSave != 3 {
		t.Errorf("removed key should fall back to the default, got %d", conf.DirsToSave)
	}
}

func TestParse_PatchInvalidatesConfig(t *testing.T) {
	_, err := Parse([]byte("dirsToSave: 5\n"), `[{"op": "replace", "path": "/dirsToSave", "value": -1}]`)
	if err == nil {
		t.Error("expected validation error after patching")
	}
}

func patchYAML(t *testing.T, in, patch string) string {
	t.Helper()
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(in), &doc); err != nil {
		t.Fatal(err)
	}
	if err := applyPatch(&doc, patch); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc.Content[0]); err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(buf.String())
}

func TestApplyPatch(t *testing.T) {
	testcases := []struct {
		name     string
		in       string
		patch    string
		expected string
		// compare decoded documents only, sequence indentation is up to the encoder
		decoded bool
	}{
		{
			name: "replace scalar keeps comments",
			in: `
# where artifacts are staged
baseDir: /a
alias: integration
`,
			patch: `[{"op": "replace", "path": "/alias", "value": "latest"}]`,
			expected: `
# where artifacts are staged
baseDir: /a
alias: latest
`,
		},
		{
			name: "add key",
			in: `
baseDir: /a
`,
			patch: `[{"op": "add", "path": "/dirsToSave", "value": 4}]`,
			expected: `
baseDir: /a
dirsToSave: 4
`,
		},
		{
			name: "remove key",
			in: `
baseDir: /a
alias: integration
dirsToSave: 4
`,
			patch: `[{"op": "remove", "path": "/alias"}]`,
			expected: `
baseDir: /a
dirsToSave: 4
`,
		},
		{
			name: "append to sequence",
			in: `
supportedVersions:
  - "3.6"
  - "3.7"
`,
			patch: `[{"op": "add", "path": "/supportedVersions/-", "value": "4.2"}]`,
			expected: `
supportedVersions: ["3.6", "3.7", "4.2"]
`,
			decoded: true,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got := patchYAML(t, tc.in, tc.patch)
			if tc.decoded {
				var expected, actual interface{}
				if err := yaml.Unmarshal([]byte(tc.expected), &expected); err != nil {
					t.Fatal(err)
				}
				if err := yaml.Unmarshal([]byte(got), &actual); err != nil {
					t.Fatal(err)
				}
				if d := cmp.Diff(expected, actual); d != "" {
					t.Errorf("unexpected document: %s\n%s", d, got)
				}
				return
			}
			if d := diff.Diff(strings.TrimSpace(tc.expected), got); d != "" {
				t.Errorf("\n%s", d)
			}
		})
	}
}

func TestMarshal(t *testing.T) {
	out, err := Default().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	conf, err := Parse([]byte(out))
	if err != nil {
		t.Fatalf("marshalled defaults do not load back: %v\n%s", err, out)
	}
	if d := cmp.Diff(Default(), conf); d != "" {
		t.Errorf("unexpected config: %s", d)
	}
}
