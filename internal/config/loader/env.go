package loader

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultEnvPrefix is the prefix of boardlink environment variables.
const DefaultEnvPrefix = "BOARDLINK_"

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
	kindList
)

type envKey struct {
	path string
	kind valueKind
}

// envKeys maps a variable name, without the prefix, to its setting.
// Durations stay strings and decode like the file form ("250ms").
var envKeys = map[string]envKey{
	"LOG_LEVEL":              {"logging.level", kindString},
	"LOG_FORMAT":             {"logging.format", kindString},
	"LOG_OUTPUT":             {"logging.output", kindString},
	"BOARD_NAME":             {"board.name", kindString},
	"BOARD_CONSUMER_TIMEOUT": {"board.consumer_timeout", kindString},
	"LOOP_QUEUE_SIZE":        {"loop.queue_size", kindInt},
	"SCRIPTS":                {"script.paths", kindList},
	"SCRIPT_TIMEOUT":         {"script.timeout", kindString},
	"SCRIPT_ALLOW":           {"script.allow", kindList},
	"REPLAY_PATH":            {"replay.path", kindString},
	"REPLAY_PACING":          {"replay.pacing", kindBool},
	"RECORD_PATH":            {"record.path", kindString},
	"RECORD_SESSION":         {"record.session", kindString},
	"MONITOR_REFRESH":        {"monitor.refresh", kindString},
}

// EnvLoader loads configuration from environment variables such as
// BOARDLINK_LOOP_QUEUE_SIZE=64. Variables with the prefix that name no
// setting are ignored.
type EnvLoader struct {
	prefix  string
	environ func() []string
}

// NewEnvLoader creates an environment variable loader.
// The prefix should include the trailing underscore.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{prefix: prefix, environ: os.Environ}
}

// Load reads the environment and returns a configuration map. An empty
// value is kept, not treated as unset.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)

	for _, env := range l.environ() {
		name, raw, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		key, ok := envKeys[strings.TrimPrefix(name, l.prefix)]
		if !ok {
			continue
		}

		value, err := key.parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		setByPath(config, key.path, value)
	}

	return config, nil
}

func (k envKey) parse(s string) (any, error) {
	switch k.kind {
	case kindInt:
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	case kindBool:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "", "0", "false", "no", "off":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", s)
	case kindList:
		return parseList(s)
	default:
		return s, nil
	}
}

// parseList accepts a JSON array of strings or a comma-separated list.
func parseList(s string) ([]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []any{}, nil
	}

	if strings.HasPrefix(s, "[") {
		if !gjson.Valid(s) {
			return nil, fmt.Errorf("invalid JSON list %q", s)
		}
		var out []any
		for _, item := range gjson.Parse(s).Array() {
			if item.Type != gjson.String {
				return nil, fmt.Errorf("list entry %s is not a string", item.Raw)
			}
			out = append(out, item.String())
		}
		return out, nil
	}

	parts := strings.Split(s, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data

	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}

	current[parts[len(parts)-1]] = value
}
