//go:build !windows

package exec

import (
	"os"
	osexec "os/exec"
	"syscall"
)

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

func defaultShellArgs() []string {
	return []string{"-c"}
}

// setProcessGroup places the child in a new process group so that signals
// reach every process it spawns.
func setProcessGroup(cmd *osexec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(p *os.Process, kill bool) error {
	sig := syscall.SIGTERM
	if kill {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(-p.Pid, sig); err != nil {
		return p.Signal(sig)
	}
	return nil
}

func signalProcess(p *os.Process, kill bool) error {
	if kill {
		return p.Signal(syscall.SIGKILL)
	}
	return p.Signal(syscall.SIGTERM)
}

// exitStatus reports 128+signal for signalled processes, as shells do.
func exitStatus(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
