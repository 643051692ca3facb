package runner

import (
	"errors"
	"time"
)

// Result holds the normalized outcome of a command execution.
type Result struct {
	RunID     string        // unique identifier for this run
	Command   string        // subcommand that was requested
	Success   bool          // true only when the process exited with status 0
	Stdout    string        // captured stdout, trimmed (may be truncated)
	Stderr    string        // captured stderr, trimmed (may be truncated)
	ExitCode  int           // process exit code, -1 for internal failures
	Truncated bool          // true if either stream exceeded the size cap
	Duration  time.Duration // wall time spent in Execute
	Err       error         // nil on success, otherwise wraps one of the Err* kinds
}

// Is reports whether the result failed with the given error kind.
func (r *Result) Is(kind error) bool {
	return r != nil && r.Err != nil && errors.Is(r.Err, kind)
}

// ErrorText returns stderr, falling back to stdout when stderr is empty.
func (r *Result) ErrorText() string {
	if r.Stderr != "" {
		return r.Stderr
	}
	return r.Stdout
}

func failedResult(runID, command, stderr string, err error) *Result {
	return &Result{
		RunID:    runID,
		Command:  command,
		Success:  false,
		Stderr:   stderr,
		ExitCode: -1,
		Err:      err,
	}
}
