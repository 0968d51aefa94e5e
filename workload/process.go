// Package workload describes the user-space process run in syscall-emulation
// mode and prepares its address space.
package workload

import (
	"io"
	"os"

	"github.com/sarchlab/sesim/emu"
)

// Process describes the program to run and the environment it sees.
type Process struct {
	// Executable is the host path of the ELF binary.
	Executable string
	// Cwd is the working directory reported to the program.
	Cwd string
	// Cmd is argv, starting with the program name.
	Cmd []string
	// Env holds KEY=VALUE strings.
	Env []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Identity emu.Identity
}

// NewProcess creates a process running executable with argv cmd. Stdio is
// bound to the host streams and the working directory to the host's.
func NewProcess(executable string, cmd []string) *Process {
	cwd, _ := os.Getwd()
	if len(cmd) == 0 {
		cmd = []string{executable}
	}

	return &Process{
		Executable: executable,
		Cwd:        cwd,
		Cmd:        cmd,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Identity:   emu.DefaultIdentity(),
	}
}
