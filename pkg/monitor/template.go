package monitor

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// RenderAction builds a response action's arguments: every {{dotted.path}}
// placeholder in the template is replaced with the value reached by walking
// the triggering result (maps by key, lists by integer index), the outcome
// is parsed as JSON, and for single-target tasks agent_id is injected when
// absent.
//
// Unresolved placeholders stay in place literally, so a bad path surfaces
// as a failing tool call instead of a silently empty argument.
func RenderAction(template string, result map[string]any, targets []string) (map[string]any, error) {
	if strings.TrimSpace(template) == "" {
		return nil, fmt.Errorf("empty action args template")
	}

	rendered := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		path := strings.TrimSpace(m[2 : len(m)-2])
		value, ok := walkPath(result, strings.Split(path, "."))
		if !ok {
			return m
		}
		return formatValue(value)
	})

	var args map[string]any
	if err := json.Unmarshal([]byte(rendered), &args); err != nil {
		return nil, fmt.Errorf("action args are not valid JSON after templating: %w", err)
	}

	if len(targets) == 1 {
		if _, exists := args["agent_id"]; !exists {
			args["agent_id"] = targets[0]
		}
	}
	return args, nil
}

// walkPath descends through maps by key and lists by integer index.
func walkPath(value any, segments []string) (any, bool) {
	current := value
	for _, seg := range segments {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// formatValue renders a resolved value into the template text. JSON
// numbers that are whole render without a decimal point, so a pid of
// 1234.0 substitutes as "1234".
func formatValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return "null"
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}
