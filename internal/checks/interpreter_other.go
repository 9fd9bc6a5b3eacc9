//go:build !windows

package checks

import (
	"os"
	"os/exec"
	"syscall"
)

const embeddedRuby = "/opt/sensu/embedded/bin/ruby"

var powerShellLocations = []string{
	"/usr/bin/pwsh",
	"/usr/local/bin/pwsh",
	"/opt/microsoft/powershell/7/pwsh",
}

func powerShellPath() string {
	for _, p := range powerShellLocations {
		if fileExists(p) {
			return p
		}
	}
	return "pwsh"
}

func rubyPath() string {
	if fileExists(embeddedRuby) {
		return embeddedRuby
	}
	return "ruby"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// New process group so that a timeout takes the whole tree down.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
