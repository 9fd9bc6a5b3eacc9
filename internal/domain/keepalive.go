package domain

import "time"

// DefaultRedactKeys are replaced when the client configures no redact list.
var DefaultRedactKeys = []string{
	"password", "passwd", "pass",
	"api_key", "api_token", "access_key",
	"secret_key", "private_key", "secret",
}

const Redacted = "REDACTED"

// NewKeepalive builds the heartbeat published on the keepalives queue.
// The client tree is copied and redacted; the caller's map is not modified.
func NewKeepalive(client map[string]interface{}, version string, redact []string, now time.Time) map[string]interface{} {
	keepalive := CloneMap(client)
	if keepalive == nil {
		keepalive = make(map[string]interface{})
	}
	keepalive["timestamp"] = now.Unix()
	keepalive["plugins"] = ""
	if version != "" {
		keepalive["version"] = version
	}
	return Redact(keepalive, redact)
}

// Redact returns a copy of tree where every key in keys, at any depth, has its
// value replaced by "REDACTED". A nil keys slice means DefaultRedactKeys; an
// empty, non-nil slice redacts nothing.
func Redact(tree map[string]interface{}, keys []string) map[string]interface{} {
	if keys == nil {
		keys = DefaultRedactKeys
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	out, _ := redactValue(CloneMap(tree), set).(map[string]interface{})
	return out
}

func redactValue(v interface{}, keys map[string]struct{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if _, ok := keys[k]; ok {
				t[k] = Redacted
				continue
			}
			t[k] = redactValue(child, keys)
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = redactValue(t[i], keys)
		}
		return t
	default:
		return v
	}
}
