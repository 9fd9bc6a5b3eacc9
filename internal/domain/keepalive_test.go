package domain_test

import (
	"testing"
	"time"

	"ozzus/sensu-agent/internal/domain"

	"github.com/stretchr/testify/require"
)

func clientTree() map[string]interface{} {
	return map[string]interface{}{
		"name":     "web-01",
		"password": "hunter2",
		"rabbitmq": map[string]interface{}{
			"user":   "sensu",
			"secret": "s3cr3t",
			"nested": map[string]interface{}{
				"api_key": "abc",
				"keep":    "me",
			},
		},
		"endpoints": []interface{}{
			map[string]interface{}{"url": "http://a", "pass": "x"},
		},
	}
}

func TestRedactDefaults(t *testing.T) {
	t.Parallel()
	tree := clientTree()

	got := domain.Redact(tree, nil)
	require.Equal(t, "REDACTED", got["password"])
	require.Equal(t, "web-01", got["name"])

	rabbit := got["rabbitmq"].(map[string]interface{})
	require.Equal(t, "REDACTED", rabbit["secret"])
	require.Equal(t, "sensu", rabbit["user"])

	nested := rabbit["nested"].(map[string]interface{})
	require.Equal(t, "REDACTED", nested["api_key"])
	require.Equal(t, "me", nested["keep"])

	endpoint := got["endpoints"].([]interface{})[0].(map[string]interface{})
	require.Equal(t, "REDACTED", endpoint["pass"])
	require.Equal(t, "http://a", endpoint["url"])

	// the input is left untouched
	require.Equal(t, clientTree(), tree)
}

func TestRedactCustomKeys(t *testing.T) {
	t.Parallel()

	got := domain.Redact(clientTree(), []string{"user", "keep"})
	require.Equal(t, "hunter2", got["password"])

	rabbit := got["rabbitmq"].(map[string]interface{})
	require.Equal(t, "REDACTED", rabbit["user"])
	require.Equal(t, "s3cr3t", rabbit["secret"])
	require.Equal(t, "REDACTED", rabbit["nested"].(map[string]interface{})["keep"])
}

func TestRedactEmptyList(t *testing.T) {
	t.Parallel()

	require.Equal(t, clientTree(), domain.Redact(clientTree(), []string{}))
	require.Nil(t, domain.Redact(nil, nil))
}

func TestNewKeepalive(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)

	keepalive := domain.NewKeepalive(clientTree(), "1.2.0", nil, now)
	require.Equal(t, int64(1700000000), keepalive["timestamp"])
	require.Equal(t, "", keepalive["plugins"])
	require.Equal(t, "1.2.0", keepalive["version"])
	require.Equal(t, "REDACTED", keepalive["password"])
	require.Equal(t, "web-01", keepalive["name"])
}
