package checks

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"ozzus/sensu-agent/internal/domain"
)

const tokenMarker = ":::"

var tokenRe = regexp.MustCompile(`:::(.*?):::`)

var ErrDefaultDividerMissing = errors.New("default divider missing")

// MissingDefaultError lists tokens that carry no default value.
type MissingDefaultError struct {
	Tokens []string
}

func (e *MissingDefaultError) Error() string {
	return "default missing: " + strings.Join(e.Tokens, ", ")
}

// Substitute replaces every :::path|default::: token in command with the
// value found at the dotted path in client, or the default when the path
// does not resolve to a leaf.
//
// A command with tokens but no divider at all is returned unchanged together
// with ErrDefaultDividerMissing. Tokens with an empty default are reported in
// a *MissingDefaultError alongside the substituted command. Callers must not
// execute a command when an error is returned.
func Substitute(command string, client map[string]interface{}) (string, error) {
	if !strings.Contains(command, tokenMarker) {
		return command, nil
	}
	if !strings.Contains(command, "|") {
		return command, ErrDefaultDividerMissing
	}

	var missing []string
	substituted := tokenRe.ReplaceAllStringFunc(command, func(token string) string {
		inner := strings.TrimSuffix(strings.TrimPrefix(token, tokenMarker), tokenMarker)
		path, def, _ := strings.Cut(inner, "|")
		if def == "" {
			missing = append(missing, path)
		}
		return lookup(client, strings.Split(path, "."), def)
	})

	if len(missing) > 0 {
		return substituted, &MissingDefaultError{Tokens: missing}
	}
	return substituted, nil
}

func lookup(tree map[string]interface{}, path []string, def string) string {
	var current interface{} = tree
	for _, segment := range path {
		node, ok := asMap(current)
		if !ok {
			return def
		}
		current, ok = node[segment]
		if !ok || current == nil {
			return def
		}
	}

	if _, ok := asMap(current); ok {
		return def
	}
	if _, ok := current.([]interface{}); ok {
		return def
	}
	value, ok := domain.StringValue(current)
	if !ok {
		return def
	}
	return value
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case domain.Check:
		return t, true
	}
	return nil, false
}

// SubstitutionFailure is the output reported for a command that could not be
// substituted.
func SubstitutionFailure(err error) string {
	return fmt.Sprintf("Check didn't have valid command: %s", err.Error())
}
