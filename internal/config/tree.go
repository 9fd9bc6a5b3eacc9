package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
)

// loadTree reads the main file and every *.json fragment of dir, in name
// order, and deep-merges them. Missing file or dir are not errors.
func loadTree(file, dir string) (map[string]interface{}, error) {
	tree := make(map[string]interface{})

	paths := make([]string, 0, 8)
	if file != "" {
		paths = append(paths, file)
	}
	if dir != "" {
		fragments, err := filepath.Glob(filepath.Join(dir, "*.json"))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		sort.Strings(fragments)
		paths = append(paths, fragments...)
	}

	for _, path := range paths {
		fragment, err := readJSON(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		mergeTree(tree, fragment)
	}

	return tree, nil
}

func readJSON(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]interface{}{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return out, nil
}

// mergeTree merges src into dst: objects recursively, arrays as a union
// keeping first-seen order, anything else replaced by src.
func mergeTree(dst, src map[string]interface{}) {
	for key, value := range src {
		existing, ok := dst[key]
		if !ok {
			dst[key] = value
			continue
		}
		dst[key] = mergeValue(existing, value)
	}
}

func mergeValue(existing, incoming interface{}) interface{} {
	switch in := incoming.(type) {
	case map[string]interface{}:
		if ex, ok := existing.(map[string]interface{}); ok {
			mergeTree(ex, in)
			return ex
		}
	case []interface{}:
		if ex, ok := existing.([]interface{}); ok {
			return unionSlices(ex, in)
		}
	}
	return incoming
}

func unionSlices(a, b []interface{}) []interface{} {
	out := make([]interface{}, 0, len(a)+len(b))
	out = append(out, a...)
	for _, item := range b {
		if !containsValue(out, item) {
			out = append(out, item)
		}
	}
	return out
}

func containsValue(items []interface{}, v interface{}) bool {
	for _, item := range items {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

func isJSONFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}
