package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"ozzus/sensu-agent/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestDecodeCheck(t *testing.T) {
	t.Parallel()

	check, err := domain.DecodeCheck([]byte(`{"name":"disk","command":"check-disk","interval":30,"standalone":true,"extra":{"a":[1,2]}}`))
	require.NoError(t, err)

	name, ok := check.Name()
	require.True(t, ok)
	require.Equal(t, "disk", name)

	interval, ok := check.Interval()
	require.True(t, ok)
	require.Equal(t, 30*time.Second, interval)
	require.True(t, check.Standalone())
	require.Equal(t, domain.CheckTypeStandard, check.Type())
	require.Equal(t, json.Number("30"), check["interval"])

	_, err = domain.DecodeCheck([]byte(`not json`))
	require.Error(t, err)

	_, err = domain.DecodeCheck([]byte(`null`))
	require.Error(t, err)
}

func TestCheckClone(t *testing.T) {
	t.Parallel()
	check := domain.Check{
		"name":     "disk",
		"handlers": []interface{}{"default"},
		"params":   map[string]interface{}{"warn": 1},
	}

	clone := check.Clone()
	clone["handlers"].([]interface{})[0] = "mail"
	clone["params"].(map[string]interface{})["warn"] = 2
	clone["output"] = "x"

	require.Equal(t, "default", check["handlers"].([]interface{})[0])
	require.Equal(t, 1, check["params"].(map[string]interface{})["warn"])
	require.NotContains(t, check, "output")
}

func TestCheckRejectAndResult(t *testing.T) {
	t.Parallel()
	check := domain.Check{"name": "disk"}

	check.Reject("nope")
	require.Equal(t, "nope", check["output"])
	require.Equal(t, domain.StatusUnknown, check["status"])
	require.Equal(t, false, check["handle"])

	check.SetResult(domain.CheckResult{Output: "ok", Status: 0, Duration: domain.Seconds(1234567 * time.Microsecond)})
	require.Equal(t, 1.235, check["duration"])

	payload := domain.NewResultPayload(check, "web-01", time.Unix(42, 0))
	require.Equal(t, int64(42), payload.Check["executed"])
	require.Equal(t, "web-01", payload.Client)
}
