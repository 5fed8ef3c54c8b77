// Package monitor evaluates monitoring task results and drives their
// scheduled execution: parser rules extract values from tool output,
// threshold conditions classify them, the templater builds response-action
// arguments, and the runner/scheduler pair executes tasks on their
// intervals.
package monitor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// regexRuleRe matches the regex("<pattern>", <group>) rule form. The
// pattern may contain escaped quotes.
var regexRuleRe = regexp.MustCompile(`^\s*regex\(\s*"((?:[^"\\]|\\.)*)"\s*,\s*(\d+)\s*\)\s*$`)

// forbiddenRegexTokens are rejected at rule parse time: multiline flags
// and lookaround are not portable across the engines that consume these
// rules.
var forbiddenRegexTokens = []string{"(?m)", "(?=", "(?!", "(?<=", "(?<!"}

// OutputText returns the text a rule scans: the tool result's stdout when
// present, otherwise the whole result serialised as JSON.
func OutputText(result map[string]any) string {
	if stdout, ok := result["stdout"].(string); ok && stdout != "" {
		return stdout
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result)
	}
	return string(raw)
}

// structuredResult returns the value dotted-path rules traverse: the
// decoded stdout when it carries JSON, else the result object itself.
func structuredResult(result map[string]any) any {
	stdout, ok := result["stdout"].(string)
	if !ok || strings.TrimSpace(stdout) == "" {
		return result
	}
	var decoded any
	if err := json.Unmarshal([]byte(stdout), &decoded); err != nil {
		return result
	}
	return decoded
}

// ParseRule applies one extraction rule to a tool result.
//
// Rules starting with "$." traverse the structured result by dotted keys
// (maps only); a missing key yields nil. regex("<pattern>", <group>) rules
// run the pattern once against the output text and yield the group as a
// string, or nil when the pattern does not match. Anything else is an
// error.
func ParseRule(rule string, result map[string]any) (any, error) {
	rule = strings.TrimSpace(rule)
	switch {
	case strings.HasPrefix(rule, "$."):
		return walkKeys(structuredResult(result), strings.Split(rule[2:], ".")), nil
	case strings.HasPrefix(rule, "regex("):
		pattern, group, err := parseRegexRule(rule)
		if err != nil {
			return nil, err
		}
		match := pattern.FindStringSubmatch(OutputText(result))
		if match == nil || group >= len(match) {
			return nil, nil
		}
		return match[group], nil
	default:
		return nil, fmt.Errorf("unsupported parser rule %q", rule)
	}
}

func parseRegexRule(rule string) (*regexp.Regexp, int, error) {
	m := regexRuleRe.FindStringSubmatch(rule)
	if m == nil {
		return nil, 0, fmt.Errorf("malformed regex rule %q", rule)
	}
	for _, token := range forbiddenRegexTokens {
		if strings.Contains(m[1], token) {
			return nil, 0, fmt.Errorf("regex rule uses forbidden token %q", token)
		}
	}
	pattern, err := regexp.Compile(m[1])
	if err != nil {
		return nil, 0, fmt.Errorf("invalid regex rule: %w", err)
	}
	group, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, 0, fmt.Errorf("invalid regex group in %q", rule)
	}
	return pattern, group, nil
}

// walkKeys descends through nested maps by key. Any non-map midway or a
// missing key yields nil.
func walkKeys(value any, keys []string) any {
	current := value
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[key]
		if !ok {
			return nil
		}
	}
	return current
}
