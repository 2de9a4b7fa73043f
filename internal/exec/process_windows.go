//go:build windows

package exec

import (
	"os"
	osexec "os/exec"
)

func defaultShell() string {
	if sh := os.Getenv("COMSPEC"); sh != "" {
		return sh
	}
	return "cmd.exe"
}

func defaultShellArgs() []string {
	return []string{"/C"}
}

func setProcessGroup(*osexec.Cmd) {}

func signalGroup(p *os.Process, _ bool) error {
	return p.Kill()
}

func signalProcess(p *os.Process, _ bool) error {
	return p.Kill()
}

func exitStatus(state *os.ProcessState) int {
	return state.ExitCode()
}
