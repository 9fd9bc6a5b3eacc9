//go:build windows

package checks

import (
	"os"
	"os/exec"
	"path/filepath"
)

const embeddedRuby = `c:\opt\sensu\embedded\bin\ruby.exe`

func powerShellPath() string {
	root := os.Getenv("SystemRoot")
	if root == "" {
		root = `C:\Windows`
	}
	for _, dir := range []string{"sysnative", "system32"} {
		p := filepath.Join(root, dir, "WindowsPowerShell", "v1.0", "powershell.exe")
		if fileExists(p) {
			return p
		}
	}
	return "powershell.exe"
}

func rubyPath() string {
	if fileExists(embeddedRuby) {
		return embeddedRuby
	}
	return "ruby.exe"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func setProcessGroup(*exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
