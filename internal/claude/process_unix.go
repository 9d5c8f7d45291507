//go:build darwin || linux

package claude

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcessGroup starts cmd in its own process group so Kill reaches
// the tool subprocesses the agent spawns.
func configureProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// interruptProcess mimics Ctrl+C for the whole group, falling back to the
// parent alone.
func interruptProcess(proc *os.Process) {
	if proc.Pid > 0 && unix.Kill(-proc.Pid, unix.SIGINT) == nil {
		return
	}
	_ = proc.Signal(os.Interrupt)
}

func killProcess(proc *os.Process) {
	if proc.Pid > 0 {
		_ = unix.Kill(-proc.Pid, unix.SIGKILL)
	}
	_ = proc.Kill()
}
