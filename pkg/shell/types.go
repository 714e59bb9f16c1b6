package shell

import (
	"fmt"
	"io"
	"strings"
)

type Command struct {
	Name           string
	Args           []string
	Stdout, Stderr io.Writer
	Stdin          io.Reader

	// Env is merged over the environment of the current process
	Env map[string]string

	// Dir is the working directory of this command
	Dir string
}

func (c *Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

type Exec func(*Command) Result

type Result struct {
	ExitStatus int
	Error      error
}

// ExitError is returned by Shell.Run when the command could not be started or exited nonzero.
type ExitError struct {
	Command    string
	Dir        string
	ExitStatus int
	Stderr     string
	Err        error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q in %s exited with status %d", e.Command, e.Dir, e.ExitStatus)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
