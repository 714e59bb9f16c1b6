package shell

import (
	"bytes"
	"errors"
	"io"

	"github.com/go-logr/logr"
	"k8s.io/klog/klogr"
)

var errStdoutSet = errors.New("exec: Stdout already set")

type Shell struct {
	Exec Exec

	Logger logr.Logger
}

func New(exec Exec, logger logr.Logger) *Shell {
	if exec == nil {
		exec = DefaultExec
	}
	if logger == nil {
		logger = klogr.New()
	}
	return &Shell{Exec: exec, Logger: logger}
}

// Run runs the command to completion. Stderr is captured for the error message unless
// the caller already redirected it. Any nonzero exit status is reported as *ExitError.
func (s *Shell) Run(cmd *Command) error {
	_, err := s.run(cmd)
	return err
}

// Output runs the command and returns what it wrote to stdout.
func (s *Shell) Output(cmd *Command) (string, error) {
	if cmd.Stdout != nil {
		return "", &ExitError{Command: cmd.String(), Dir: cmd.Dir, ExitStatus: 1, Err: errStdoutSet}
	}
	stdout := &bytes.Buffer{}
	cmd.Stdout = stdout
	if _, err := s.run(cmd); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

func (s *Shell) run(cmd *Command) (Result, error) {
	s.Logger.V(2).Info("exec", "cmd", cmd.String(), "dir", cmd.Dir)

	stderr := &bytes.Buffer{}
	if cmd.Stderr == nil {
		cmd.Stderr = stderr
	} else {
		cmd.Stderr = io.MultiWriter(cmd.Stderr, stderr)
	}
	if cmd.Stdout == nil {
		cmd.Stdout = &logWriter{log: s.Logger, cmd: cmd.Name}
	}

	r := s.Exec(cmd)
	if r.Error != nil || r.ExitStatus != 0 {
		s.Logger.V(1).Info("exec failed", "cmd", cmd.String(), "status", r.ExitStatus, "stderr", stderr.String())
		return r, &ExitError{
			Command:    cmd.String(),
			Dir:        cmd.Dir,
			ExitStatus: r.ExitStatus,
			Stderr:     stderr.String(),
			Err:        r.Error,
		}
	}
	return r, nil
}

type logWriter struct {
	log logr.Logger
	cmd string
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte("\n")) {
		if len(line) > 0 {
			w.log.V(3).Info(string(line), "cmd", w.cmd)
		}
	}
	return len(p), nil
}
