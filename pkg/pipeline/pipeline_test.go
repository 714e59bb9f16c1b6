package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/twpayne/go-vfs"
	"github.com/twpayne/go-vfs/vfst"
	"github.com/variantdev/wbstage/pkg/archive"
	"github.com/variantdev/wbstage/pkg/checksum"
	"github.com/variantdev/wbstage/pkg/fsutil"
	"github.com/variantdev/wbstage/pkg/mirror"
	"github.com/variantdev/wbstage/pkg/retention"
	"github.com/variantdev/wbstage/pkg/shell"
	"github.com/variantdev/wbstage/pkg/signing"
	"github.com/variantdev/wbstage/pkg/sitetool"
	"github.com/variantdev/wbstage/pkg/telemetry"
	"github.com/variantdev/wbstage/pkg/verify"
	"go.opentelemetry.io/api/core"
	"go.opentelemetry.io/api/trace"
	"k8s.io/klog/klogr"
)

func newTestFS(t *testing.T, files map[string]interface{}) (vfs.FS, func()) {
	t.Helper()
	fs, clean, err := vfst.NewTestFS(files)
	if err != nil {
		t.Fatal(err)
	}
	return fs, clean
}

func list(t *testing.T, fs vfs.FS, dir string) []string {
	t.Helper()
	names, err := fsutil.New(fs, nil).List(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	return names
}

// fakeArchiver lays out a small update site on unarchive and writes a placeholder zip on rezip.
type fakeArchiver struct {
	fs       vfs.FS
	unzipped []string
}

func (a *fakeArchiver) Unarchive(archivePath, destDir string) error {
	a.unzipped = append(a.unzipped, archivePath)
	files := fsutil.New(a.fs, nil)
	if err := files.EnsureDir(filepath.Join(destDir, "plugins")); err != nil {
		return err
	}
	for _, f := range []string{"site.xml", "plugins/org.eclipse.wb.core.jar", "plugins/org.eclipse.wb.core.jar.pack.gz"} {
		if err := a.fs.WriteFile(filepath.Join(destDir, f), []byte(f), 0644); err != nil {
			return err
		}
	}
	return nil
}

func (a *fakeArchiver) Rezip(productDir, version, excludeSuffix string) (string, error) {
	zip := archive.ZipPath(productDir, version)
	return zip, a.fs.WriteFile(zip, []byte("zip of "+version), 0644)
}

type fakeSiteTool struct {
	fs      vfs.FS
	calls   []string
	packErr error
}

func (t *fakeSiteTool) process(op, inputDir string) (string, error) {
	t.calls = append(t.calls, op)
	files := fsutil.New(t.fs, nil)
	out := filepath.Join(inputDir, sitetool.OutDirName)
	if err := files.EnsureDir(out); err != nil {
		return "", err
	}
	names, err := files.List(inputDir, fsutil.IsRegular)
	if err != nil {
		return "", err
	}
	for _, n := range names {
		if err := t.fs.WriteFile(filepath.Join(out, n), []byte(op+"ed "+n), 0644); err != nil {
			return "", err
		}
	}
	return out, nil
}

func (t *fakeSiteTool) Optimize(ctx context.Context, inputDir, version string) (string, error) {
	return t.process("optimiz", inputDir)
}

func (t *fakeSiteTool) Pack(ctx context.Context, inputDir, version string) (string, error) {
	if t.packErr != nil {
		t.calls = append(t.calls, "pack")
		return "", t.packErr
	}
	return t.process("pack", inputDir)
}

func (t *fakeSiteTool) PublishMetadata(ctx context.Context, siteDir, version string) ([]string, error) {
	t.calls = append(t.calls, "publish")
	return []string{"3.7"}, nil
}

func (t *fakeSiteTool) RunPostProcess(ctx context.Context, scriptPath, siteDir, version string) error {
	t.calls = append(t.calls, "postprocess "+scriptPath)
	return nil
}

type fakeVerifier struct {
	report *verify.Report
}

func (v *fakeVerifier) VerifySite(ctx context.Context, siteDir string, expectSigned bool) (*verify.Report, error) {
	return v.report, nil
}

// eventSpan records the events added to it.
type eventSpan struct {
	trace.NoopSpan
	events []string
}

func (s *eventSpan) AddEvent(ctx context.Context, msg string, attrs ...core.KeyValue) {
	e := msg
	for _, a := range attrs {
		e += " " + a.Key.Name + "=" + a.Value.Emit()
	}
	s.events = append(s.events, e)
}

func md5Recorder() *shell.Recorder {
	return &shell.Recorder{Handler: func(c *shell.Command) shell.Result {
		if c.Name == "md5sum" && c.Stdout != nil {
			c.Stdout.Write([]byte("d41d8cd98f00b204e9800998ecf8427e *" + c.Args[1] + "\n"))
		}
		return shell.Result{}
	}}
}

func TestRun_StagingWithoutTransforms(t *testing.T) {
	fs, clean := newTestFS(t, map[string]interface{}{
		"/drops/N201205/a.zip": "a",
		"/drops/N201205/b.zip": "b",
		"/drops/N201205/c.zip": "c",
		"/base/wb/leftover":    "from a previous run",
		"/sign/leftover.zip":   "from a previous run",
	})
	defer clean()

	rec := &shell.Recorder{}
	logger := klogr.New()

	arch, err := archive.New(archive.FS(fs), archive.Exec(rec.Exec), archive.Logger(logger))
	if err != nil {
		t.Fatal(err)
	}
	installer, err := sitetool.NewInstaller(sitetool.ArchiveDir("/archives"), sitetool.InstallerFS(fs))
	if err != nil {
		t.Fatal(err)
	}
	tool, err := sitetool.New(installer, sitetool.FS(fs), sitetool.Exec(rec.Exec))
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := verify.New(verify.FS(fs), verify.Exec(rec.Exec), verify.TempRoot("/tmp"))
	if err != nil {
		t.Fatal(err)
	}
	sums, err := checksum.New(checksum.FS(fs), checksum.Exec(rec.Exec))
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(Settings{
		DropLocation:   "/drops/N201205",
		Subproduct:     "wb",
		BaseDir:        "/base",
		SignDir:        "/sign",
		EclipseVersion: "3.7",
	},
		FS(fs),
		Logger(logger),
		WithArchiver(arch),
		WithSiteTool(tool),
		WithVerifier(verifier),
		WithChecksummer(sums),
	)
	if err != nil {
		t.Fatal(err)
	}

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if d := cmp.Diff([]string{"a.zip", "b.zip", "c.zip"}, list(t, fs, "/base/wb")); d != "" {
		t.Errorf("unexpected staging area: %s", d)
	}
	if _, err := fs.Stat("/sign"); err == nil {
		t.Error("sign dir not removed")
	}
	if _, err := fs.Stat("/deploy"); err == nil {
		t.Error("deploy dir touched")
	}
	if len(rec.Commands) != 0 {
		t.Errorf("unexpected external commands: %v", rec.Names())
	}

	expected := []State{StateInit, StateStage, StateMerge, StateUnzip, StatePublishMetadata, StateVerify, StateRezip, StateChecksum, StateStaged, StateCleanup}
	if d := cmp.Diff(expected, res.Stages); d != "" {
		t.Errorf("unexpected stages: %s", d)
	}
	if res.State != StateStaged {
		t.Errorf("unexpected final state: %s", res.State)
	}
}

func TestRun_StagingAllStages(t *testing.T) {
	fs, clean := newTestFS(t, map[string]interface{}{
		"/drops/N1/3.7.zip":    "site",
		"/drops/N1/readme.txt": "readme",
	})
	defer clean()

	rec := md5Recorder()
	arch := &fakeArchiver{fs: fs}
	tool := &fakeSiteTool{fs: fs}
	report := &verify.Report{
		Checked:  []string{"/base/wb/3.7/plugins/org.eclipse.wb.core.jar.pack.gz"},
		Failures: []verify.Failure{{Artifact: "/base/wb/3.7/plugins/org.eclipse.wb.core.jar.pack.gz", Reason: "not signed"}},
	}
	signer, err := signing.New(signing.FS(fs), signing.WithStrategy(&signing.Mock{Files: fsutil.New(fs, nil), Logger: klogr.New()}))
	if err != nil {
		t.Fatal(err)
	}
	sums, err := checksum.New(checksum.FS(fs), checksum.Exec(rec.Exec))
	if err != nil {
		t.Fatal(err)
	}
	tm, err := telemetry.New("wbstage_pipeline_test", []telemetry.SpanKind{telemetry.KindRun, telemetry.KindStage})
	if err != nil {
		t.Fatal(err)
	}
	span := &eventSpan{}
	tm.CurrentSpan = func(ctx context.Context) trace.Span { return span }

	p, err := New(Settings{
		DropLocation:      "/drops/N1",
		Subproduct:        "wb",
		BaseDir:           "/base",
		SignDir:           "/sign",
		EclipseVersion:    "3.7",
		Sign:              true,
		Pack:              true,
		Optimize:          true,
		PostProcessScript: "/scripts/post.xml",
	},
		FS(fs),
		WithArchiver(arch),
		WithSigner(signer),
		WithSiteTool(tool),
		WithVerifier(&fakeVerifier{report: report}),
		WithChecksummer(sums),
		WithTelemeter(tm),
	)
	if err != nil {
		t.Fatal(err)
	}

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	expectedStages := []State{
		StateInit, StateStage, StateSign, StatePack, StateOptimize, StateMerge, StateUnzip,
		StatePublishMetadata, StatePostProcess, StateVerify, StateRezip, StateChecksum, StateStaged, StateCleanup,
	}
	if d := cmp.Diff(expectedStages, res.Stages); d != "" {
		t.Errorf("unexpected stages: %s", d)
	}
	if d := cmp.Diff([]string{"pack", "optimiz", "publish", "postprocess /scripts/post.xml"}, tool.calls); d != "" {
		t.Errorf("unexpected site tool calls: %s", d)
	}

	// the unzipped zip is the output of every transform
	if d := cmp.Diff([]string{"/base/wb/3.7.zip"}, arch.unzipped); d != "" {
		t.Errorf("unexpected unzips: %s", d)
	}

	if d := cmp.Diff([]string{"3.7", "3.7.zip", "3.7.zip.MD5", "readme.txt"}, list(t, fs, "/base/wb")); d != "" {
		t.Errorf("unexpected staging area: %s", d)
	}
	if d := cmp.Diff([]string{"3.7"}, res.Versions); d != "" {
		t.Errorf("unexpected versions: %s", d)
	}
	if d := cmp.Diff([]string{"/base/wb/3.7.zip.MD5"}, res.Checksums); d != "" {
		t.Errorf("unexpected checksums: %s", d)
	}

	// verification failures are reported, not fatal
	if res.Verification == nil || len(res.Verification.Failures) != 1 {
		t.Errorf("verification report not carried into the result: %+v", res.Verification)
	}
	expectedEvents := []string{"verification failure artifact=/base/wb/3.7/plugins/org.eclipse.wb.core.jar.pack.gz reason=not signed"}
	if d := cmp.Diff(expectedEvents, span.events); d != "" {
		t.Errorf("unexpected trace events: %s", d)
	}

	if _, err := fs.Stat("/sign"); err == nil {
		t.Error("sign dir not removed")
	}
}

func TestRun_EmptyDrop(t *testing.T) {
	fs, clean := newTestFS(t, map[string]interface{}{
		"/drops/N1/.keep": "",
	})
	defer clean()
	if err := fs.Remove("/drops/N1/.keep"); err != nil {
		t.Fatal(err)
	}

	p, err := New(Settings{DropLocation: "/drops/N1", Subproduct: "wb", BaseDir: "/base", SignDir: "/sign"},
		FS(fs),
		WithArchiver(&fakeArchiver{fs: fs}),
		WithSiteTool(&fakeSiteTool{fs: fs}),
		WithVerifier(&fakeVerifier{report: &verify.Report{}}),
		WithChecksummer(&checksum.Writer{}),
	)
	if err != nil {
		t.Fatal(err)
	}

	res, err := p.Run(context.Background())
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.State != StateStage {
		t.Fatalf("expected failure in the stage state, got %v", err)
	}
	if !errors.Is(err, fsutil.ErrNoInput) {
		t.Errorf("expected ErrNoInput, got %v", err)
	}
	if res.State != StateFailed {
		t.Errorf("unexpected final state: %s", res.State)
	}
}

func TestRun_FailureStillRemovesSignDir(t *testing.T) {
	fs, clean := newTestFS(t, map[string]interface{}{
		"/drops/N1/3.7.zip": "site",
	})
	defer clean()

	errPack := errors.New("pack200 crashed")
	tool := &fakeSiteTool{fs: fs, packErr: errPack}

	p, err := New(Settings{
		DropLocation: "/drops/N1",
		Subproduct:   "wb",
		BaseDir:      "/base",
		SignDir:      "/sign",
		Pack:         true,
		Optimize:     true,
	},
		FS(fs),
		WithArchiver(&fakeArchiver{fs: fs}),
		WithSiteTool(tool),
		WithVerifier(&fakeVerifier{report: &verify.Report{}}),
		WithChecksummer(&checksum.Writer{}),
	)
	if err != nil {
		t.Fatal(err)
	}

	res, err := p.Run(context.Background())
	if !errors.Is(err, errPack) {
		t.Fatalf("expected pack error, got %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.State != StatePack {
		t.Errorf("expected failure in the pack state, got %v", err)
	}

	expected := []State{StateInit, StateStage, StateCleanup}
	if d := cmp.Diff(expected, res.Stages); d != "" {
		t.Errorf("unexpected stages: %s", d)
	}
	if d := cmp.Diff([]string{"pack"}, tool.calls); d != "" {
		t.Errorf("stages ran after the failure: %s", d)
	}
	if _, err := fs.Stat("/sign"); err == nil {
		t.Error("sign dir not removed after failure")
	}
	// the staging area is left for inspection
	if _, err := fs.Stat("/base/wb"); err != nil {
		t.Errorf("staging area removed: %v", err)
	}
}

func TestRun_DeployOnly(t *testing.T) {
	files := map[string]interface{}{
		"/base/wb/3.7/site.xml":        `<site pack200="true"></site>`,
		"/base/wb/3.7.zip":             "z",
		"/base/wb/3.7.zip.MD5":         "sum",
		"/deploy/wb/integration/stale": "old",
	}
	existing := []string{"201201011200", "201202011200", "201203011200", "201204011200", "201205011200"}
	for _, e := range existing {
		files["/deploy/wb/"+e+"/3.7.zip"] = "old"
	}
	fs, clean := newTestFS(t, files)
	defer clean()

	deployer, err := mirror.New("/deploy",
		mirror.FS(fs),
		mirror.Now(func() time.Time { return time.Date(2012, 6, 1, 12, 0, 0, 0, time.UTC) }),
		mirror.MirrorsURL("http://www.eclipse.org/downloads/download.php?file=/windowbuilder/{{.Subproduct}}/{{.Name}}/{{.Version}}&format=xml"),
	)
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(Settings{
		DropLocation: "/drops/N1",
		Subproduct:   "wb",
		BaseDir:      "/base",
		SignDir:      "/sign",
		Sign:         true,
		Pack:         true,
		Deploy:       true,
		DirsToSave:   3,
	},
		FS(fs),
		WithDeployer(deployer),
	)
	if err != nil {
		t.Fatal(err)
	}
	if p.Sign || p.Pack || p.Optimize {
		t.Error("deploy-only run must not transform")
	}

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	remaining, err := retention.Candidates(fs, "/deploy/wb")
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{"201203011200", "201204011200", "201205011200", "201206011200"}
	if d := cmp.Diff(expected, remaining); d != "" {
		t.Errorf("unexpected deployments: %s", d)
	}
	if d := cmp.Diff([]string{"201201011200", "201202011200"}, res.Pruned); d != "" {
		t.Errorf("unexpected pruned deployments: %s", d)
	}

	for _, p := range []string{"/deploy/wb/integration/3.7.zip", "/deploy/wb/integration/3.7.zip.MD5", "/deploy/wb/201206011200/3.7/site.xml", "/deploy/wb/deployments.yaml"} {
		if _, err := fs.Stat(p); err != nil {
			t.Errorf("%s missing: %v", p, err)
		}
	}
	if _, err := fs.Stat("/deploy/wb/integration/stale"); err == nil {
		t.Error("alias dir not recreated")
	}

	h, err := mirror.LoadHistory(fs, "/deploy/wb/deployments.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Deployments) != 1 || h.Deployments[0].Dir != "201206011200" || h.Deployments[0].Drop != "/drops/N1" {
		t.Errorf("unexpected history: %+v", h.Deployments)
	}

	expectedStages := []State{StateInit, StateDeploy, StatePrune, StateDeployed, StateCleanup}
	if d := cmp.Diff(expectedStages, res.Stages); d != "" {
		t.Errorf("unexpected stages: %s", d)
	}
	if res.Deployment == nil || res.Deployment.Dir != "/deploy/wb/201206011200" {
		t.Errorf("unexpected deployment: %+v", res.Deployment)
	}

	// the staging area is the deploy source and stays untouched
	if d := cmp.Diff([]string{"3.7", "3.7.zip", "3.7.zip.MD5"}, list(t, fs, "/base/wb")); d != "" {
		t.Errorf("unexpected staging area: %s", d)
	}
}

func TestNew_MissingCollaborators(t *testing.T) {
	testcases := []struct {
		name     string
		settings Settings
	}{
		{name: "staging", settings: Settings{DropLocation: "/d", Subproduct: "wb", BaseDir: "/b", SignDir: "/s"}},
		{name: "deploy", settings: Settings{Subproduct: "wb", BaseDir: "/b", SignDir: "/s", Deploy: true}},
		{name: "no subproduct", settings: Settings{DropLocation: "/d", BaseDir: "/b", SignDir: "/s"}},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.settings); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_InvalidSettings(t *testing.T) {
	fs, clean := newTestFS(t, map[string]interface{}{
		"/drops/N1/a.zip":        "a",
		"/staging/other/3.7.zip": "staged by another subproduct",
		"/staging/sign/a.zip":    "being signed",
	})
	defer clean()

	testcases := []struct {
		name     string
		settings Settings
	}{
		{name: "dot", settings: Settings{Subproduct: "."}},
		{name: "parent", settings: Settings{Subproduct: ".."}},
		{name: "nested", settings: Settings{Subproduct: "wb/core"}},
		{name: "escaping", settings: Settings{Subproduct: "../wb"}},
		{name: "sign dir is the staging area", settings: Settings{Subproduct: "sign"}},
		{name: "sign dir inside the staging area", settings: Settings{Subproduct: "wb", SignDir: "/staging/wb/sign"}},
		{name: "staging area inside the sign dir", settings: Settings{Subproduct: "wb", SignDir: "/staging"}},
		{name: "drop inside the staging area", settings: Settings{Subproduct: "wb", DropLocation: "/staging/wb/drop"}},
		{name: "deploy with sign dir as staging area", settings: Settings{Subproduct: "sign", Deploy: true}},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.settings
			s.BaseDir = "/staging"
			if s.SignDir == "" {
				s.SignDir = "/staging/sign"
			}
			if s.DropLocation == "" && !s.Deploy {
				s.DropLocation = "/drops/N1"
			}
			_, err := New(s,
				FS(fs),
				WithArchiver(&fakeArchiver{fs: fs}),
				WithSiteTool(&fakeSiteTool{fs: fs}),
				WithVerifier(&fakeVerifier{report: &verify.Report{}}),
				WithChecksummer(&checksum.Writer{}),
				WithDeployer(&mirror.Deployer{}),
			)
			if !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("expected ErrInvalidSettings, got %v", err)
			}
		})
	}

	for _, f := range []string{"/staging/other/3.7.zip", "/staging/sign/a.zip"} {
		if _, err := fs.Stat(f); err != nil {
			t.Errorf("%s: %v", f, err)
		}
	}
}

func TestValidateSubproduct(t *testing.T) {
	for _, name := range []string{"wb", "wb-core", "wb.test", "..wb"} {
		if err := ValidateSubproduct(name); err != nil {
			t.Errorf("%q: unexpected error: %v", name, err)
		}
	}
	for _, name := range []string{"", ".", "..", "a/b", "/wb", `a\b`, "wb/"} {
		if err := ValidateSubproduct(name); err == nil {
			t.Errorf("%q: expected error", name)
		}
	}
}
