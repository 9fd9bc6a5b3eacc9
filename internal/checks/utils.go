package checks

import (
	"time"

	"ozzus/sensu-agent/internal/domain"
)

// ConfigFor builds the execution settings for a check definition.
func ConfigFor(plugins string, check map[string]interface{}) CommandConfig {
	return CommandConfig{
		Plugins: plugins,
		Timeout: secondsParam(check, domain.FieldTimeout, 0),
	}
}

// secondsParam reads a whole number of seconds; non-positive values mean unset.
func secondsParam(params map[string]interface{}, key string, fallback time.Duration) time.Duration {
	seconds, ok := domain.IntValue(params[key])
	if !ok || seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
