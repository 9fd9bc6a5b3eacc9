package checks

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// Interpreter is how a raw command string gets turned into a process.
type Interpreter int

const (
	InterpreterDirect Interpreter = iota
	InterpreterPerfCounter
	InterpreterPowerShell
	InterpreterRuby
)

func (i Interpreter) String() string {
	switch i {
	case InterpreterPerfCounter:
		return "perfcounter"
	case InterpreterPowerShell:
		return "powershell"
	case InterpreterRuby:
		return "ruby"
	default:
		return "direct"
	}
}

const PerfCounterPrefix = "!perfcounter>"

var powerShellOptions = []string{
	"-NoProfile",
	"-NonInteractive",
	"-NoLogo",
	"-ExecutionPolicy", "Bypass",
	"-FILE",
}

type CommandConfig struct {
	Plugins string
	Timeout time.Duration
}

// Command is a raw check command resolved to an executable and arguments.
type Command struct {
	Raw         string
	Interpreter Interpreter
	FileName    string
	Args        []string
	WorkDir     string
	Timeout     time.Duration

	// Directive holds the text after the perf counter prefix.
	Directive string
}

// SelectInterpreter picks the variant for a raw command. Matching is
// case-insensitive and the first rule that matches wins.
func SelectInterpreter(raw string) Interpreter {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, PerfCounterPrefix):
		return InterpreterPerfCounter
	case strings.Contains(lower, ".ps1"):
		return InterpreterPowerShell
	case strings.Contains(lower, ".rb"):
		return InterpreterRuby
	default:
		return InterpreterDirect
	}
}

func NewCommand(cfg CommandConfig, raw string) Command {
	cmd := Command{
		Raw:         raw,
		Interpreter: SelectInterpreter(raw),
		WorkDir:     cfg.Plugins,
		Timeout:     cfg.Timeout,
	}

	switch cmd.Interpreter {
	case InterpreterPerfCounter:
		idx := strings.Index(strings.ToLower(raw), PerfCounterPrefix)
		cmd.Directive = strings.TrimSpace(raw[idx+len(PerfCounterPrefix):])
	case InterpreterPowerShell:
		cmd.FileName = powerShellPath()
		script, rest := scriptAndArgs(raw, ".ps1")
		cmd.Args = append(append([]string{}, powerShellOptions...), pluginPath(cfg.Plugins, script))
		cmd.Args = append(cmd.Args, rest...)
	case InterpreterRuby:
		cmd.FileName = rubyPath()
		script, rest := scriptAndArgs(raw, ".rb")
		cmd.Args = append([]string{pluginPath(cfg.Plugins, script)}, rest...)
	default:
		name, tail := splitFirst(strings.TrimSpace(raw))
		cmd.FileName = name
		cmd.Args = splitArgs(tail)
	}

	return cmd
}

// Arguments renders Args back into a single line, for logs.
func (c Command) Arguments() string {
	return strings.Join(c.Args, " ")
}

// scriptAndArgs finds the word naming the script, drops everything before it
// (interpreter hints such as "powershell -file" or "ruby.exe") and keeps only
// the text after its last path separator. Words are located on whitespace so
// that Windows paths keep their backslashes; the text after the script word
// is split into its args.
func scriptAndArgs(raw, ext string) (string, []string) {
	rest := strings.TrimSpace(raw)
	for rest != "" {
		word, tail := splitFirst(rest)
		if strings.Contains(strings.ToLower(word), ext) {
			if idx := strings.LastIndexAny(word, `/\`); idx >= 0 {
				word = word[idx+1:]
			}
			return word, splitArgs(tail)
		}
		rest = tail
	}

	head, tail := splitFirst(strings.TrimSpace(raw))
	return head, splitArgs(tail)
}

func pluginPath(plugins, script string) string {
	if plugins == "" {
		return script
	}
	return filepath.Join(plugins, script)
}

func splitFirst(s string) (string, string) {
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}

func splitArgs(tail string) []string {
	if tail == "" {
		return nil
	}
	args, err := shellwords.Parse(tail)
	if err != nil {
		return strings.Fields(tail)
	}
	return args
}
