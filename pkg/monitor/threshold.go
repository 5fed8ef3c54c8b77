package monitor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/prismsec/prism/pkg/models"
)

// Threshold modes. structured and ai carry natural-language criteria no
// machine can decide, binary is reserved; all three evaluate to amber.
const (
	ModeVariable   = "variable"
	ModeContains   = "contains"
	ModeStructured = "structured"
	ModeAI         = "ai"
	ModeBinary     = "binary"
)

// Evaluate applies a task's threshold condition to a tool result and
// returns the resulting status with the audit record of the evaluation.
//
// An empty condition is green with no record. A condition that cannot be
// evaluated (bad JSON, unknown mode, broken parser rule, panic) is amber
// with the error recorded verbatim; monitoring never fails silently and
// never escalates to red on its own malfunction.
func Evaluate(condition string, result map[string]any) (status models.Status, eval *models.ThresholdEval) {
	trimmed := strings.TrimSpace(condition)
	if trimmed == "" {
		return models.StatusGreen, nil
	}

	eval = &models.ThresholdEval{Condition: condition}
	defer func() {
		if rec := recover(); rec != nil {
			status = models.StatusAmber
			eval.Error = fmt.Sprintf("threshold evaluation panicked: %v", rec)
		}
	}()

	var doc map[string]any
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		eval.Error = fmt.Sprintf("threshold condition is not a JSON object: %s", err)
		return models.StatusAmber, eval
	}

	mode, _ := doc["mode"].(string)
	eval.Mode = mode
	switch mode {
	case ModeVariable:
		return evaluateVariable(doc, result, eval), eval
	case ModeContains:
		return evaluateContains(doc, result, eval), eval
	case ModeStructured, ModeAI, ModeBinary:
		return models.StatusAmber, eval
	case "":
		eval.Error = "threshold condition has no mode"
		return models.StatusAmber, eval
	default:
		eval.Error = fmt.Sprintf("unknown threshold mode %q", mode)
		return models.StatusAmber, eval
	}
}

// evaluateVariable extracts each rule's variable and compares it as a
// float. Rules whose variable is missing or non-numeric are skipped; a
// fired red rule wins over amber. A broken extraction rule degrades the
// overall status to amber and is recorded.
func evaluateVariable(doc, result map[string]any, eval *models.ThresholdEval) models.Status {
	parserRules := toStringMap(firstValue(doc, "parserRules", "parser_rules"))
	rules, _ := doc["rules"].([]any)

	status := models.StatusGreen
	var errs []string
	for _, raw := range rules {
		rule, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name := firstString(rule, "var", "variable")
		op := firstString(rule, "op", "operator")
		limit, hasLimit := toFloat(rule["value"])
		if name == "" || !validOp(op) || !hasLimit {
			continue
		}

		extracted, err := ParseRule(ruleExpression(name, parserRules), result)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		value, numeric := toFloat(extracted)
		if !numeric {
			continue
		}

		if compare(value, op, limit) {
			level := ruleLevel(firstString(rule, "level"))
			eval.Triggered = append(eval.Triggered,
				fmt.Sprintf("%s %s %v -> %s (actual %v)", name, op, rule["value"], level, extracted))
			status = escalate(status, level)
		}
	}

	if len(errs) > 0 {
		eval.Error = strings.Join(errs, "; ")
		status = escalate(status, models.StatusAmber)
	}
	return status
}

// ruleExpression resolves a rule's variable name: a named parser rule when
// one exists, a literal expression when the name already is one, else a
// dotted path into the result.
func ruleExpression(name string, parserRules map[string]string) string {
	if expr, ok := parserRules[name]; ok {
		return expr
	}
	if strings.HasPrefix(name, "$.") || strings.HasPrefix(name, "regex(") {
		return name
	}
	return "$." + name
}

// evaluateContains scans the lowercased serialised result. Any present
// not_contains marker short-circuits to green; otherwise any present
// contains marker yields the condition's match_level.
func evaluateContains(doc, result map[string]any, eval *models.ThresholdEval) models.Status {
	raw, err := json.Marshal(result)
	if err != nil {
		raw = []byte(fmt.Sprint(result))
	}
	output := strings.ToLower(string(raw))

	for _, marker := range toStringList(doc["not_contains"]) {
		if strings.Contains(output, strings.ToLower(marker)) {
			return models.StatusGreen
		}
	}

	matchLevel := matchLevelStatus(firstString(doc, "match_level"))
	matched := false
	for _, marker := range toStringList(doc["contains"]) {
		if strings.Contains(output, strings.ToLower(marker)) {
			eval.Triggered = append(eval.Triggered, fmt.Sprintf("contains %q", marker))
			matched = true
		}
	}
	if matched {
		return matchLevel
	}
	return models.StatusGreen
}

func validOp(op string) bool {
	switch op {
	case ">", ">=", "<", "<=", "==":
		return true
	}
	return false
}

func compare(value float64, op string, limit float64) bool {
	switch op {
	case ">":
		return value > limit
	case ">=":
		return value >= limit
	case "<":
		return value < limit
	case "<=":
		return value <= limit
	case "==":
		return value == limit
	}
	return false
}

// ruleLevel maps a variable rule's level. Only red and amber are valid; a
// fired rule with anything else needs review.
func ruleLevel(level string) models.Status {
	if strings.EqualFold(level, "red") {
		return models.StatusRed
	}
	return models.StatusAmber
}

// matchLevelStatus maps a contains condition's match_level, defaulting to
// red when unset.
func matchLevelStatus(level string) models.Status {
	switch strings.ToLower(level) {
	case "amber":
		return models.StatusAmber
	case "green":
		return models.StatusGreen
	default:
		return models.StatusRed
	}
}

// escalate keeps the worst status seen: red > amber > green.
func escalate(current, next models.Status) models.Status {
	rank := map[models.Status]int{models.StatusGreen: 0, models.StatusAmber: 1, models.StatusRed: 2}
	if rank[next] > rank[current] {
		return next
	}
	return current
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toStringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

func toStringList(v any) []string {
	switch list := v.(type) {
	case nil:
		return nil
	case string:
		return []string{list}
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func firstValue(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
