package checks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"ozzus/sensu-agent/internal/domain"
)

const defaultWaitDelay = 2 * time.Second

// Engine runs resolved commands and turns them into check results.
type Engine struct {
	log       *slog.Logger
	perf      *PerfCounterCollector
	waitDelay time.Duration
}

func NewEngine(log *slog.Logger, perf *PerfCounterCollector) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		log:       log.With(slog.String("component", "engine")),
		perf:      perf,
		waitDelay: defaultWaitDelay,
	}
}

// Run resolves raw against cfg and executes it.
func (e *Engine) Run(ctx context.Context, cfg CommandConfig, raw string) domain.CheckResult {
	return e.Execute(ctx, NewCommand(cfg, raw))
}

// Execute never returns an error: spawn failures and timeouts are reported
// as status 2 results.
func (e *Engine) Execute(ctx context.Context, command Command) domain.CheckResult {
	if command.Interpreter == InterpreterPerfCounter {
		if e.perf == nil {
			return domain.CheckResult{
				Output: "Unexpected error: performance counters are not available",
				Status: domain.StatusCritical,
			}
		}
		return e.perf.Collect(ctx, command.Directive)
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if command.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, command.Timeout)
	}
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, command.FileName, command.Args...)
	cmd.Dir = command.WorkDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = e.waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		e.log.Error("failed to start command",
			slog.String("file", command.FileName),
			slog.String("args", command.Arguments()),
			slog.String("error", err.Error()))
		return domain.CheckResult{
			Output:   fmt.Sprintf("Unexpected error: %s", err.Error()),
			Status:   domain.StatusCritical,
			Duration: domain.Seconds(time.Since(start)),
		}
	}
	waitErr := cmd.Wait()
	duration := domain.Seconds(time.Since(start))

	output := stdout.String() + stderr.String()
	if stderr.Len() > 0 {
		e.log.Error("command wrote to stderr",
			slog.String("args", command.Arguments()),
			slog.String("stderr", stderr.String()))
	}

	result := domain.CheckResult{
		Output:   output,
		Status:   exitStatus(cmd, waitErr),
		Duration: duration,
	}

	if command.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		e.log.Warn("command timed out",
			slog.String("file", command.FileName),
			slog.Duration("timeout", command.Timeout))
		result.Status = domain.StatusCritical
		if result.Output == "" {
			result.Output = fmt.Sprintf("Execution timed out after %s", command.Timeout)
		}
	}

	return result
}

func exitStatus(cmd *exec.Cmd, err error) int {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		if cmd.ProcessState != nil && cmd.ProcessState.ExitCode() >= 0 {
			return cmd.ProcessState.ExitCode()
		}
		return domain.StatusOK
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return domain.StatusCritical
}
