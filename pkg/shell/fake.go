package shell

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

type FakeInput struct {
	Name string
	Args string
	Env  string
	Dir  string
}

type FakeOutput struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

func NewFakeInput(name string, args []string, env map[string]string, dir string) FakeInput {
	envs := []string{}
	for k, v := range env {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(envs)
	input := FakeInput{
		Name: name,
		Args: strings.Join(args, ","),
		Env:  strings.Join(envs, ","),
		Dir:  dir,
	}
	return input
}

func NewFake(expectations map[FakeInput]FakeOutput) Exec {
	return func(cmd *Command) Result {
		input := NewFakeInput(cmd.Name, cmd.Args, cmd.Env, cmd.Dir)
		output, ok := expectations[input]
		if !ok {
			err := fmt.Errorf("unexpected input: %v", input)
			return Result{ExitStatus: 1, Error: err}
		}

		if err := writeAll(cmd.Stdout, output.Stdout); err != nil {
			return Result{ExitStatus: 1, Error: err}
		}
		if err := writeAll(cmd.Stderr, output.Stderr); err != nil {
			return Result{ExitStatus: 1, Error: err}
		}

		return Result{ExitStatus: output.ExitStatus, Error: nil}
	}
}

func writeAll(w io.Writer, s string) error {
	if w == nil || s == "" {
		return nil
	}
	n, err := io.WriteString(w, s)
	if err != nil {
		return err
	}
	if n != len(s) {
		return fmt.Errorf("insufficient write: wrote only %d of %d", n, len(s))
	}
	return nil
}

// Recorder is a fake Exec that remembers every command and delegates to Handler.
// A nil Handler makes every command succeed.
type Recorder struct {
	Commands []Command

	Handler func(*Command) Result
}

func (r *Recorder) Exec(cmd *Command) Result {
	r.Commands = append(r.Commands, *cmd)
	if r.Handler == nil {
		return Result{}
	}
	return r.Handler(cmd)
}

// Names returns the command lines recorded so far.
func (r *Recorder) Names() []string {
	var names []string
	for i := range r.Commands {
		names = append(names, r.Commands[i].String())
	}
	return names
}
