package checks_test

import (
	"path/filepath"
	"testing"
	"time"

	"ozzus/sensu-agent/internal/checks"

	"github.com/stretchr/testify/require"
)

const plugins = "/etc/sensu/plugins"

func TestSelectInterpreter(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
		then     checks.Interpreter
	}{
		{"powershell", "script.ps1 -w 50 -c 90", checks.InterpreterPowerShell},
		{"powershell_upper_case", "SCRIPT.PS1", checks.InterpreterPowerShell},
		{"powershell_mixed_case", "Check-Disk.Ps1 -c 90", checks.InterpreterPowerShell},
		{"ruby", "check_cpu.rb -w 50 -c 90", checks.InterpreterRuby},
		{"ruby_upper_case", "CHECK_CPU.RB", checks.InterpreterRuby},
		{"powershell_wins_over_ruby", "run.rb.ps1", checks.InterpreterPowerShell},
		{"perfcounter", `!perfcounter> \Processor(_Total)\% Processor Time`, checks.InterpreterPerfCounter},
		{"perfcounter_case", `!PerfCounter> \Memory\Available Bytes`, checks.InterpreterPerfCounter},
		{"direct", "check-disk -w 80", checks.InterpreterDirect},
		{"direct_bare", "uptime", checks.InterpreterDirect},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.then, checks.SelectInterpreter(tc.given))
		})
	}
}

func TestNewCommandPowerShell(t *testing.T) {
	t.Parallel()
	cfg := checks.CommandConfig{Plugins: plugins}
	options := []string{"-NoProfile", "-NonInteractive", "-NoLogo", "-ExecutionPolicy", "Bypass", "-FILE"}

	cmd := checks.NewCommand(cfg, "script.ps1 -w 50 -c 90")
	require.Equal(t, checks.InterpreterPowerShell, cmd.Interpreter)
	require.NotEmpty(t, cmd.FileName)
	want := append(append([]string{}, options...), filepath.Join(plugins, "script.ps1"), "-w", "50", "-c", "90")
	require.Equal(t, want, cmd.Args)
	require.Equal(t, plugins, cmd.WorkDir)

	cmd = checks.NewCommand(cfg, "powershell -file c:/opt/sensu/plugins/perfmon-metrics.ps1")
	want = append(append([]string{}, options...), filepath.Join(plugins, "perfmon-metrics.ps1"))
	require.Equal(t, want, cmd.Args)
}

func TestNewCommandRuby(t *testing.T) {
	t.Parallel()
	cfg := checks.CommandConfig{Plugins: plugins}

	cmd := checks.NewCommand(cfg, "check_cpu.rb -w 50 -c 90")
	require.Equal(t, checks.InterpreterRuby, cmd.Interpreter)
	require.Contains(t, cmd.FileName, "ruby")
	require.Equal(t, []string{filepath.Join(plugins, "check_cpu.rb"), "-w", "50", "-c", "90"}, cmd.Args)

	cmd = checks.NewCommand(cfg, "/opt/sensu/embedded/bin/ruby.exe /opt/sensu/plugins/check-windows-cpu-load.rb")
	require.Equal(t, []string{filepath.Join(plugins, "check-windows-cpu-load.rb")}, cmd.Args)

	cmd = checks.NewCommand(cfg, `c:\opt\sensu\embedded\bin\ruby.exe c:\opt\sensu\plugins\check-cpu.rb -w 80 -m 'all cores'`)
	require.Equal(t, []string{filepath.Join(plugins, "check-cpu.rb"), "-w", "80", "-m", "all cores"}, cmd.Args)
}

func TestNewCommandDirect(t *testing.T) {
	t.Parallel()
	cfg := checks.CommandConfig{Plugins: plugins, Timeout: 3 * time.Second}

	cmd := checks.NewCommand(cfg, "check-disk -w 80 -m '/var/lib data'")
	require.Equal(t, checks.InterpreterDirect, cmd.Interpreter)
	require.Equal(t, "check-disk", cmd.FileName)
	require.Equal(t, []string{"-w", "80", "-m", "/var/lib data"}, cmd.Args)
	require.Equal(t, plugins, cmd.WorkDir)
	require.Equal(t, 3*time.Second, cmd.Timeout)

	cmd = checks.NewCommand(cfg, "uptime")
	require.Equal(t, "uptime", cmd.FileName)
	require.Empty(t, cmd.Args)
}

func TestNewCommandPerfCounter(t *testing.T) {
	t.Parallel()

	cmd := checks.NewCommand(checks.CommandConfig{}, `!PERFCOUNTER> \Memory\Available Bytes;warn=10`)
	require.Equal(t, checks.InterpreterPerfCounter, cmd.Interpreter)
	require.Equal(t, `\Memory\Available Bytes;warn=10`, cmd.Directive)
	require.Empty(t, cmd.FileName)
}

func TestConfigFor(t *testing.T) {
	t.Parallel()

	cfg := checks.ConfigFor(plugins, map[string]interface{}{"timeout": float64(15)})
	require.Equal(t, plugins, cfg.Plugins)
	require.Equal(t, 15*time.Second, cfg.Timeout)

	cfg = checks.ConfigFor(plugins, map[string]interface{}{"name": "no-timeout"})
	require.Zero(t, cfg.Timeout)
}
