package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error kinds carried in Result.Err. The HTTP surface collapses all of them into
// exit code -1, but callers and tests can tell them apart with errors.Is.
var (
	// ErrValidation means the command name or an argument was malformed; no process was spawned
	ErrValidation = errors.New("invalid command")

	// ErrTimeout means the process did not finish within its timeout and was killed
	ErrTimeout = errors.New("command timed out")

	// ErrProcess means the process ran and exited unsuccessfully
	ErrProcess = errors.New("command failed")

	// ErrStart means the process could not be started (missing binary, bad working directory)
	ErrStart = errors.New("command could not be started")

	// ErrCanceled means the caller's context was cancelled, or hit its own deadline, before the process finished
	ErrCanceled = errors.New("command canceled")

	// ErrInternal means the runner itself failed unexpectedly
	ErrInternal = errors.New("internal runner failure")

	// errRunTimeout is the cause attached to the per-command deadline
	errRunTimeout = errors.New("runner timeout")
)

// Spec describes a single CLI invocation: <binary> <Name> [Args...]
type Spec struct {
	// Name is the CLI subcommand, restricted to ASCII letters and digits
	Name string

	// Args are passed to the process as a discrete vector, never through a shell
	Args []string

	// Timeout bounds the execution; zero means the runner's default
	Timeout time.Duration
}

// Validate checks the command shape before anything is executed.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: command name is empty", ErrValidation)
	}
	for _, c := range s.Name {
		if !isAlphanumeric(c) {
			return fmt.Errorf("%w: invalid command format %q", ErrValidation, s.Name)
		}
	}
	for i, arg := range s.Args {
		// A NUL byte cannot be passed through execve and would silently truncate the argument
		if strings.ContainsRune(arg, 0) {
			return fmt.Errorf("%w: invalid argument at position %d", ErrValidation, i)
		}
	}
	return nil
}

// String renders the spec for logging.
func (s Spec) String() string {
	if len(s.Args) == 0 {
		return s.Name
	}
	return s.Name + " " + strings.Join(s.Args, " ")
}

func isAlphanumeric(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
