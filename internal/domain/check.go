package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// CheckType values understood by the agent.
const (
	CheckTypeStandard = "standard"
	CheckTypeMetric   = "metric"
)

// Field names shared between the bus protocol and the processor.
const (
	FieldName       = "name"
	FieldCommand    = "command"
	FieldTimeout    = "timeout"
	FieldInterval   = "interval"
	FieldStandalone = "standalone"
	FieldCron       = "cron"
	FieldType       = "type"
	FieldOutput     = "output"
	FieldStatus     = "status"
	FieldDuration   = "duration"
	FieldExecuted   = "executed"
	FieldHandle     = "handle"
)

// Check is a check definition or request as it travels over the bus.
// Fields the agent does not know about are carried through untouched.
type Check map[string]interface{}

// DecodeCheck parses a JSON object into a Check, keeping numbers as json.Number.
func DecodeCheck(data []byte) (Check, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var check Check
	if err := dec.Decode(&check); err != nil {
		return nil, fmt.Errorf("decode check: %w", err)
	}
	if check == nil {
		return nil, fmt.Errorf("decode check: not an object")
	}
	return check, nil
}

func (c Check) Name() (string, bool) {
	name, ok := c[FieldName].(string)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

func (c Check) Command() (string, bool) {
	command, ok := c[FieldCommand].(string)
	return command, ok
}

// HasCommand reports whether the command key is present at all.
func (c Check) HasCommand() bool {
	_, ok := c[FieldCommand]
	return ok
}

func (c Check) Interval() (time.Duration, bool) {
	seconds, ok := IntValue(c[FieldInterval])
	if !ok || seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

func (c Check) Standalone() bool {
	switch v := c[FieldStandalone].(type) {
	case bool:
		return v
	case string:
		parsed, _ := strconv.ParseBool(v)
		return parsed
	}
	return false
}

func (c Check) Cron() string {
	expr, _ := c[FieldCron].(string)
	return expr
}

// Type defaults to "standard".
func (c Check) Type() string {
	if t, ok := c[FieldType].(string); ok && t != "" {
		return t
	}
	return CheckTypeStandard
}

// Clone returns a deep copy, so that the processor can annotate a check
// without touching the definition it came from.
func (c Check) Clone() Check {
	if c == nil {
		return nil
	}
	return Check(CloneMap(c))
}

// SetResult merges an execution result into the check.
func (c Check) SetResult(result CheckResult) {
	c[FieldOutput] = result.Output
	c[FieldStatus] = result.Status
	c[FieldDuration] = result.Duration
}

// Reject marks the check as a policy failure that must not be handled.
func (c Check) Reject(output string) {
	c[FieldOutput] = output
	c[FieldStatus] = StatusUnknown
	c[FieldHandle] = false
}

// CloneMap deep-copies nested maps and slices; other values are shared.
func CloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneMap(t)
	case Check:
		return t.Clone()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// IntValue converts the numeric shapes produced by JSON and YAML decoding.
func IntValue(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// IsInteger reports whether v is an integral JSON number.
func IsInteger(v interface{}) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == float64(int64(n))
	case json.Number:
		_, err := n.Int64()
		return err == nil
	}
	return false
}

// StringValue renders a leaf value the way it appears in a command line.
func StringValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}
