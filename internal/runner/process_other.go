//go:build !unix

package runner

import "os/exec"

// configureProcessGroup is a no-op where process groups are unavailable; the
// default exec.CommandContext kill of the direct child applies.
func configureProcessGroup(_ *exec.Cmd) {}
