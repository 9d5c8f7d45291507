//go:build !(darwin || linux)

package claude

import (
	"os"
	"os/exec"
)

func configureProcessGroup(*exec.Cmd) {}

func interruptProcess(proc *os.Process) {
	if err := proc.Signal(os.Interrupt); err != nil {
		_ = proc.Kill()
	}
}

func killProcess(proc *os.Process) {
	_ = proc.Kill()
}
