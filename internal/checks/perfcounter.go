package checks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"ozzus/sensu-agent/internal/domain"
)

var counterPathRe = regexp.MustCompile(`^\s*\\?\s*([^\\(]+?)\s*(?:\(\s*([^)]*?)\s*\))?\s*\\\s*(.+?)\s*$`)

var ErrInvalidCounterPath = errors.New("invalid counter path")

// CounterPath is a category(instance)\counter triple. An empty instance means
// the category has a single instance; "*" means all of them.
type CounterPath struct {
	Category string
	Instance string
	Counter  string
}

func (p CounterPath) String() string {
	if p.Instance == "" {
		return fmt.Sprintf(`\%s\%s`, p.Category, p.Counter)
	}
	return fmt.Sprintf(`\%s(%s)\%s`, p.Category, p.Instance, p.Counter)
}

func ParseCounterPath(path string) (CounterPath, error) {
	m := counterPathRe.FindStringSubmatch(path)
	if m == nil {
		return CounterPath{}, fmt.Errorf("%w: %q", ErrInvalidCounterPath, path)
	}
	return CounterPath{
		Category: m[1],
		Instance: m[2],
		Counter:  m[3],
	}, nil
}

// Counter is a single live counter resolved from a path.
type Counter interface {
	Path() CounterPath
	Sample(ctx context.Context) (float64, error)
}

// CounterSource resolves a path, possibly with a wildcard instance, into counters.
type CounterSource interface {
	Resolve(ctx context.Context, path CounterPath) ([]Counter, error)
}

type Growth string

const (
	GrowthAsc  Growth = "asc"
	GrowthDesc Growth = "desc"
)

// Directive is the parsed text following the perf counter prefix.
type Directive struct {
	Path   string
	Schema string
	Growth Growth
	Warn   *float64
	Error  *float64
}

// ParseDirective parses "path;key=value;key=value".
func ParseDirective(text string) (Directive, error) {
	parts := strings.Split(text, ";")
	d := Directive{
		Path:   strings.TrimSpace(parts[0]),
		Growth: GrowthAsc,
	}
	if d.Path == "" {
		return d, fmt.Errorf("%w: empty", ErrInvalidCounterPath)
	}

	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "schema":
			d.Schema = value
		case "growth":
			if strings.EqualFold(value, string(GrowthDesc)) {
				d.Growth = GrowthDesc
			}
		case "warn", "error":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return d, fmt.Errorf("invalid %s threshold %q: %w", key, value, err)
			}
			if key == "warn" {
				d.Warn = &f
			} else {
				d.Error = &f
			}
		}
	}

	return d, nil
}

// Breach returns "CRITICAL", "WARNING" or "" for a sampled value.
func (d Directive) Breach(value float64) string {
	crossed := func(limit float64) bool {
		if d.Growth == GrowthDesc {
			return value < limit
		}
		return value > limit
	}
	switch {
	case d.Error != nil && crossed(*d.Error):
		return "CRITICAL"
	case d.Warn != nil && crossed(*d.Warn):
		return "WARNING"
	}
	return ""
}

// PerfCounterCollector samples host counters in-process and formats them as
// metric lines.
type PerfCounterCollector struct {
	log    *slog.Logger
	source CounterSource
	host   string
	now    func() time.Time

	mu    sync.Mutex
	cache map[string][]Counter
}

func NewPerfCounterCollector(log *slog.Logger, source CounterSource, host string) *PerfCounterCollector {
	if log == nil {
		log = slog.Default()
	}
	return &PerfCounterCollector{
		log:    log.With(slog.String("component", "perfcounter")),
		source: source,
		host:   host,
		now:    time.Now,
		cache:  make(map[string][]Counter),
	}
}

func (p *PerfCounterCollector) Collect(ctx context.Context, text string) domain.CheckResult {
	start := time.Now()
	result := domain.CheckResult{Status: domain.StatusOK}

	d, err := ParseDirective(text)
	if err != nil {
		result.Output = fmt.Sprintf("# %s\n", err.Error())
		result.Status = domain.StatusCritical
		result.Duration = domain.Seconds(time.Since(start))
		return result
	}

	counters, err := p.resolve(ctx, d.Path)
	if err != nil {
		p.log.Error("failed to resolve counter", slog.String("path", d.Path), slog.String("error", err.Error()))
		result.Output = fmt.Sprintf("# %s\n", err.Error())
		result.Status = domain.StatusCritical
		result.Duration = domain.Seconds(time.Since(start))
		return result
	}

	var (
		lines      []string
		annotation string
	)
	timestamp := p.now().Unix()
	for _, counter := range counters {
		name := MetricName(d.Schema, p.host, counter.Path())

		value, err := counter.Sample(ctx)
		if err != nil {
			lines = append(lines, fmt.Sprintf("# %s: %s", name, err.Error()))
			result.Status = domain.StatusCritical
			continue
		}

		formatted := strconv.FormatFloat(value, 'f', -1, 64)
		lines = append(lines, fmt.Sprintf("%s %s %d", name, formatted, timestamp))

		if annotation != "" {
			continue
		}
		if level := d.Breach(value); level != "" {
			annotation = fmt.Sprintf("%s: %s is %s", level, name, formatted)
			if result.Status == domain.StatusOK {
				result.Status = domain.StatusWarning
			}
		}
	}

	if annotation != "" {
		lines = append([]string{annotation}, lines...)
	}
	if len(lines) > 0 {
		result.Output = strings.Join(lines, "\n") + "\n"
	}
	result.Duration = domain.Seconds(time.Since(start))
	return result
}

func (p *PerfCounterCollector) resolve(ctx context.Context, raw string) ([]Counter, error) {
	p.mu.Lock()
	cached, ok := p.cache[raw]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	path, err := ParseCounterPath(raw)
	if err != nil {
		return nil, err
	}
	counters, err := p.source.Resolve(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if len(counters) == 0 {
		return nil, fmt.Errorf("resolve %s: no matching counters", path)
	}

	p.mu.Lock()
	p.cache[raw] = counters
	p.mu.Unlock()

	return counters, nil
}

var (
	nonMetricRe  = regexp.MustCompile(`[^A-Za-z0-9.]+`)
	separatorsRe = regexp.MustCompile(`_*\._*`)
)

// MetricName renders the dotted metric name for a counter. An empty schema
// gives <host>.<category>.<counter>.performance_counter.
func MetricName(schema, host string, path CounterPath) string {
	if schema == "" {
		return strings.Join([]string{
			normalizeMetric(host),
			normalizeMetric(path.Category),
			normalizeMetric(path.Counter),
			"performance_counter",
		}, ".")
	}

	return strings.NewReplacer(
		"{HOST}", normalizeMetric(host),
		"{CATEGORY}", normalizeMetric(path.Category),
		"{INSTANCE}", normalizeMetric(path.Instance),
		"{COUNTER}", normalizeMetric(path.Counter),
	).Replace(schema)
}

func normalizeMetric(s string) string {
	s = strings.ReplaceAll(s, "%", "percent.")
	s = nonMetricRe.ReplaceAllString(s, "_")
	s = separatorsRe.ReplaceAllString(s, ".")
	s = strings.Trim(s, "_.")
	return strings.ToLower(s)
}
