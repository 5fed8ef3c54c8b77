package reason

import (
	"encoding/json"
	"regexp"
	"strings"
)

// toolCall is one invocation extracted from an assistant turn. Raw holds
// the exact JSON text the model emitted so callers can cut it out of the
// narrative.
type toolCall struct {
	Tool string
	Args any
	Raw  string
}

var (
	fenceRe       = regexp.MustCompile("(?i)```(?:json)?")
	auditResultRe = regexp.MustCompile(`\[AUDIT_RESULT:(confirmed|clear|needs_review)\]`)
	fileUploadRe  = regexp.MustCompile(`\[FILE_UPLOAD:\s*([^\]]+)\]`)
)

func stripFences(text string) string {
	return fenceRe.ReplaceAllString(text, "")
}

// extractToolCall finds the first brace-balanced JSON object in text that
// decodes to a map carrying a non-empty "tool" or "tool_name" string.
// Markdown code fences are stripped first. Arguments come from "args",
// "arguments" or "tool_args" and are passed through untyped; the dispatcher
// normalises them.
func extractToolCall(text string) (*toolCall, bool) {
	stripped := stripFences(text)
	for start := 0; start < len(stripped); start++ {
		if stripped[start] != '{' {
			continue
		}
		end, ok := balancedSpan(stripped, start)
		if !ok {
			continue
		}
		raw := stripped[start:end]
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		name := stringField(m, "tool", "tool_name")
		if name == "" {
			continue
		}
		call := &toolCall{Tool: name, Raw: raw}
		for _, key := range []string{"args", "arguments", "tool_args"} {
			if v, ok := m[key]; ok {
				call.Args = v
				break
			}
		}
		return call, true
	}
	return nil, false
}

// balancedSpan returns the index just past the object starting at start,
// tracking string literals so braces inside them do not count.
func balancedSpan(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// stripCall removes the tool-call JSON from an assistant turn, leaving the
// surrounding narrative.
func stripCall(text string, call *toolCall) string {
	narrative := strings.Replace(stripFences(text), call.Raw, "", 1)
	return strings.TrimSpace(narrative)
}

// auditVerdict reports the trailing [AUDIT_RESULT:…] tag of an audit_verify
// turn. The last occurrence wins.
func auditVerdict(text string) (string, bool) {
	matches := auditResultRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1][1], true
}

// ExtractFileUpload reports the filename of a [FILE_UPLOAD: <name>] marker
// in a user message. The surrounding text is the file's content; the marker
// itself stays in the message the model sees.
func ExtractFileUpload(input string) (string, bool) {
	m := fileUploadRe.FindStringSubmatch(input)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}
