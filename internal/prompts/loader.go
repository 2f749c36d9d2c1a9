// Package prompts holds the LLM prompt templates. Templates live in JSON
// files embedded at compile time, keyed by prompt name.
package prompts

import (
	"embed"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

//go:embed *.json
var promptFiles embed.FS

// Prompt file names
const (
	AnalysisFile = "analysis.json"
)

var (
	cache   = make(map[string]map[string]string)
	cacheMu sync.RWMutex

	placeholder = regexp.MustCompile(`\{\{\.[A-Za-z0-9_]+\}\}`)
)

// Get returns the prompt stored under key in filename
func Get(filename, key string) (string, error) {
	prompts, err := loadFile(filename)
	if err != nil {
		return "", err
	}

	prompt, ok := prompts[key]
	if !ok {
		return "", errors.Newf("prompt key %q not found in %s", key, filename)
	}
	return prompt, nil
}

// MustGet is Get for prompts required at startup; it panics when missing
func MustGet(filename, key string) string {
	prompt, err := Get(filename, key)
	if err != nil {
		panic(errors.Wrap(err, "failed to load prompt"))
	}
	return prompt
}

// Format replaces {{.Key}} placeholders with values from data
func Format(template string, data map[string]string) string {
	result := template
	for key, value := range data {
		result = strings.ReplaceAll(result, "{{."+key+"}}", value)
	}
	return result
}

// Render is Format that fails when a placeholder is left unfilled
func Render(template string, data map[string]string) (string, error) {
	result := Format(template, data)
	if missing := placeholder.FindAllString(result, -1); len(missing) > 0 {
		return "", errors.Newf("unfilled prompt placeholders: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// List returns the prompt keys of a file in sorted order
func List(filename string) ([]string, error) {
	prompts, err := loadFile(filename)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(prompts))
	for key := range prompts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// ClearCache drops parsed files
func ClearCache() {
	cacheMu.Lock()
	cache = make(map[string]map[string]string)
	cacheMu.Unlock()
}

func loadFile(filename string) (map[string]string, error) {
	cacheMu.RLock()
	prompts, ok := cache[filename]
	cacheMu.RUnlock()
	if ok {
		return prompts, nil
	}

	data, err := promptFiles.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read prompt file %s", filename)
	}
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, errors.Wrapf(err, "failed to parse prompt file %s", filename)
	}

	cacheMu.Lock()
	cache[filename] = prompts
	cacheMu.Unlock()
	return prompts, nil
}
