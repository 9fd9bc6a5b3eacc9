package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"ozzus/sensu-agent/internal/checks"
	"ozzus/sensu-agent/internal/domain"
)

const (
	outputSafeMode    = "Check is not locally defined (safemode)"
	outputInvalidName = "Check didn't have a valid name"
)

// Local socket replies.
const (
	ReplyPong          = "pong"
	ReplyOK            = "ok"
	ReplyInvalidJSON   = "Invalid Json!"
	ReplyInvalidFormat = "Invalid check format!"
)

var checkNameRe = regexp.MustCompile(`^[\w.-]+$`)

// ConfigProvider is the view of the agent configuration the processor reads
// on every check. Implementations must return fresh values after a reload.
type ConfigProvider interface {
	ClientName() string
	SafeMode() bool
	Plugins() string
	SendMetricWithCheck() bool
	ClientTree() map[string]interface{}
	LocalCheck(name string) (domain.Check, bool)
	MergeCheckWithLocalCheck(check domain.Check) domain.Check
}

type ResultSender interface {
	SendResult(ctx context.Context, result domain.ResultPayload) error
}

type Executor interface {
	Run(ctx context.Context, cfg checks.CommandConfig, raw string) domain.CheckResult
}

// CheckProcessor is the single entry point for check requests, whether they
// come from the bus, the standalone scheduler or the local socket.
type CheckProcessor struct {
	log      *slog.Logger
	cfg      ConfigProvider
	results  ResultSender
	executor Executor
	locks    *LockTable
	now      func() time.Time

	wg conc.WaitGroup

	executed atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
}

func NewCheckProcessor(log *slog.Logger, cfg ConfigProvider, results ResultSender, executor Executor, locks *LockTable) *CheckProcessor {
	if log == nil {
		log = slog.Default()
	}
	if locks == nil {
		locks = NewLockTable(log)
	}
	return &CheckProcessor{
		log:      log.With(slog.String("component", "processor")),
		cfg:      cfg,
		results:  results,
		executor: executor,
		locks:    locks,
		now:      time.Now,
	}
}

// ProcessCheck runs check asynchronously. It returns once the execution is
// dispatched, rejected or dropped; the result is published later.
func (p *CheckProcessor) ProcessCheck(ctx context.Context, check domain.Check) {
	if !check.HasCommand() {
		p.log.Warn("check without command", slog.Any("check", check))
		return
	}

	if p.cfg.SafeMode() {
		name, _ := check.Name()
		if _, ok := p.cfg.LocalCheck(name); !ok {
			p.reject(ctx, check, outputSafeMode)
			return
		}
	}

	check = p.cfg.MergeCheckWithLocalCheck(check)

	name, ok := check.Name()
	if !ok {
		p.reject(ctx, check, outputInvalidName)
		return
	}

	if !p.locks.Acquire(name) {
		p.dropped.Add(1)
		p.log.Warn("previous execution still in progress", slog.String("check", name))
		return
	}

	raw, _ := check.Command()
	command, err := checks.Substitute(raw, p.cfg.ClientTree())
	if err != nil {
		p.locks.Release(name, nil)
		p.reject(ctx, check, checks.SubstitutionFailure(err))
		return
	}
	check[domain.FieldCommand] = command

	execution := NewExecution()
	p.locks.Attach(name, execution)

	// in-flight checks are not cancelled on shutdown
	runCtx := context.WithoutCancel(ctx)
	p.wg.Go(func() {
		defer func() {
			execution.Complete()
			p.locks.Release(name, execution)
		}()

		var catcher panics.Catcher
		catcher.Try(func() { p.execute(runCtx, name, command, check) })
		if recovered := catcher.Recovered(); recovered != nil {
			p.log.Error("check reporting panicked", slog.String("check", name), slog.Any("panic", recovered.Value))
		}
	})
}

func (p *CheckProcessor) execute(ctx context.Context, name, command string, check domain.Check) {
	cfg := checks.ConfigFor(p.cfg.Plugins(), check)
	p.log.Debug("executing check", slog.String("check", name), slog.String("command", command))

	var result domain.CheckResult
	var catcher panics.Catcher
	catcher.Try(func() {
		result = p.executor.Run(ctx, cfg, command)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		p.log.Error("check execution panicked", slog.String("check", name), slog.Any("panic", recovered.Value))
		result = domain.CheckResult{
			Output: fmt.Sprintf("Unexpected error: %v", recovered.Value),
			Status: domain.StatusCritical,
		}
	}

	p.executed.Add(1)
	check.SetResult(result)
	if err := p.PublishCheckResult(ctx, check); err != nil {
		p.log.Error("failed to publish check result", slog.String("check", name), slog.String("error", err.Error()))
	}
}

func (p *CheckProcessor) reject(ctx context.Context, check domain.Check, output string) {
	p.rejected.Add(1)
	name, _ := check.Name()
	p.log.Info("check rejected", slog.String("check", name), slog.String("reason", output))

	check = check.Clone()
	check.Reject(output)
	if err := p.PublishCheckResult(ctx, check); err != nil {
		p.log.Error("failed to publish check result", slog.String("check", name), slog.String("error", err.Error()))
	}
}

// PublishCheckResult sends the result, plus a metric copy when the client
// asks for one and the check is a standard check.
func (p *CheckProcessor) PublishCheckResult(ctx context.Context, check domain.Check) error {
	client := p.cfg.ClientName()
	payload := domain.NewResultPayload(check, client, p.now())

	err := p.results.SendResult(ctx, payload)

	if p.cfg.SendMetricWithCheck() && check.Type() == domain.CheckTypeStandard {
		metric := check.Clone()
		metric[domain.FieldType] = domain.CheckTypeMetric
		if metricErr := p.results.SendResult(ctx, domain.ResultPayload{Check: metric, Client: client}); metricErr != nil && err == nil {
			err = metricErr
		}
	}

	return err
}

// HandleLocalPayload answers a payload received on the local socket.
func (p *CheckProcessor) HandleLocalPayload(ctx context.Context, data []byte) string {
	if string(bytes.TrimSpace(data)) == "ping" {
		return ReplyPong
	}

	check, err := domain.DecodeCheck(data)
	if err != nil {
		p.log.Error("invalid local payload", slog.String("error", err.Error()))
		return ReplyInvalidJSON
	}
	if !Validate(check) {
		return ReplyInvalidFormat
	}

	if err := p.PublishCheckResult(ctx, check); err != nil {
		p.log.Error("failed to publish local result", slog.String("error", err.Error()))
	}
	return ReplyOK
}

// Validate reports whether a locally submitted result is well formed.
func Validate(check domain.Check) bool {
	name, ok := check.Name()
	if !ok || !checkNameRe.MatchString(name) {
		return false
	}
	if _, ok := check[domain.FieldOutput].(string); !ok {
		return false
	}
	return domain.IsInteger(check[domain.FieldStatus])
}

func (p *CheckProcessor) Stats() domain.ProcessorStats {
	return domain.ProcessorStats{
		Executed: p.executed.Load(),
		Rejected: p.rejected.Load(),
		Dropped:  p.dropped.Load(),
	}
}

func (p *CheckProcessor) InFlight() []domain.InFlightCheck {
	return p.locks.InFlight()
}

// Wait blocks until every dispatched execution has published its result.
func (p *CheckProcessor) Wait() {
	p.wg.Wait()
}
