package signing

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/variantdev/wbstage/pkg/fsutil"
	"github.com/variantdev/wbstage/pkg/shell"
	"github.com/variantdev/wbstage/pkg/tmpl"
)

// ErrSigningTimeout is returned when signed outputs did not appear within the poll bound.
var ErrSigningTimeout = errors.New("signing did not complete")

// Strategy produces a signed copy of every file in outDir, under the same base name.
type Strategy interface {
	Sign(ctx context.Context, files []string, outDir string) error
}

// Mock copies artifacts unchanged, simulating a signed result.
type Mock struct {
	Files  *fsutil.Files
	Logger logr.Logger
}

func (m *Mock) Sign(ctx context.Context, files []string, outDir string) error {
	for _, f := range files {
		dst := filepath.Join(outDir, filepath.Base(f))
		m.Logger.V(1).Info("mock signing", "file", f, "dst", dst)
		if err := m.Files.CopyTree(f, dst); err != nil {
			return fmt.Errorf("mock signing %s: %w", f, err)
		}
	}
	return nil
}

const (
	DefaultPollInterval = 30 * time.Second
	DefaultPollAttempts = 40
)

// DefaultSignCommand is the Eclipse foundation signing script invocation. It is
// rendered once per artifact with .File and .OutDir.
var DefaultSignCommand = []string{"sign", "{{.File}}", "nomail", "{{.OutDir}}"}

// External submits each artifact to the signing service and waits until every signed
// output exists. The service may write its output after the command returned.
type External struct {
	Command []string

	PollInterval time.Duration
	PollAttempts int

	// Sleep waits between polls. Defaults to a context-aware time.After.
	Sleep func(ctx context.Context, d time.Duration) error

	Files  *fsutil.Files
	Shell  *shell.Shell
	Logger logr.Logger
}

func (e *External) Sign(ctx context.Context, files []string, outDir string) error {
	command := e.Command
	if len(command) == 0 {
		command = DefaultSignCommand
	}

	rawOut, err := e.Files.RawPath(outDir)
	if err != nil {
		return err
	}

	var expected []string
	for _, f := range files {
		rawFile, err := e.Files.RawPath(f)
		if err != nil {
			return err
		}
		args, err := tmpl.RenderArgs("sign command", command, map[string]string{
			"File":   rawFile,
			"OutDir": rawOut,
		})
		if err != nil {
			return err
		}
		e.Logger.Info("submitting for signing", "file", f)
		if err := e.Shell.Run(&shell.Command{Name: args[0], Args: args[1:], Dir: filepath.Dir(rawFile)}); err != nil {
			return fmt.Errorf("signing %s: %w", f, err)
		}
		expected = append(expected, filepath.Join(outDir, filepath.Base(f)))
	}

	return e.wait(ctx, expected)
}

func (e *External) wait(ctx context.Context, expected []string) error {
	interval := e.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := e.PollAttempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	sleep := e.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var missing []string
	for i := 0; i < attempts; i++ {
		missing = missing[:0]
		for _, p := range expected {
			if !e.Files.Exists(p) {
				missing = append(missing, p)
			}
		}
		if len(missing) == 0 {
			return nil
		}
		e.Logger.V(1).Info("waiting for signed files", "attempt", i+1, "of", attempts, "missing", len(missing))
		if i == attempts-1 {
			break
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w after %d polls: missing %v", ErrSigningTimeout, attempts, missing)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

const storePassEnv = "WBSTAGE_STOREPASS"

// SelfSign signs artifacts locally with jarsigner and a keystore.
type SelfSign struct {
	Keystore  string
	StorePass string
	Alias     string

	Files  *fsutil.Files
	Shell  *shell.Shell
	Logger logr.Logger
}

func (s *SelfSign) Sign(ctx context.Context, files []string, outDir string) error {
	if s.Keystore == "" || s.Alias == "" {
		return errors.New("self signing requires a keystore and an alias")
	}
	rawOut, err := s.Files.RawPath(outDir)
	if err != nil {
		return err
	}
	for _, f := range files {
		rawFile, err := s.Files.RawPath(f)
		if err != nil {
			return err
		}
		signed := filepath.Join(rawOut, filepath.Base(f))
		s.Logger.Info("self signing", "file", f)
		cmd := &shell.Command{
			Name: "jarsigner",
			Args: []string{"-keystore", s.Keystore, "-storepass:env", storePassEnv, "-signedjar", signed, rawFile, s.Alias},
			Env:  map[string]string{storePassEnv: s.StorePass},
		}
		if err := s.Shell.Run(cmd); err != nil {
			return fmt.Errorf("self signing %s: %w", f, err)
		}
	}
	return nil
}
