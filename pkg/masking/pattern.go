package masking

import (
	"log/slog"
	"regexp"
)

// pattern is one regex masking rule before compilation.
type pattern struct {
	name        string
	pattern     string
	replacement string
}

// compiledPattern holds a pre-compiled regex pattern with its replacement.
type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinPatterns returns the regex rules applied to every payload, in
// application order. The PEM block rule runs first so key material is gone
// before the narrower pairs are scanned.
func builtinPatterns() []pattern {
	return []pattern{
		{
			name:        "private_key_block",
			pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			replacement: `__MASKED_PRIVATE_KEY__`,
		},
		{
			name:        "api_key",
			pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{16,})["']?`,
			replacement: `"api_key": "__MASKED_API_KEY__"`,
		},
		{
			name:        "token",
			pattern:     `(?i)(?:token|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{16,})["']?`,
			replacement: `"token": "__MASKED_TOKEN__"`,
		},
		{
			name:        "bearer_header",
			pattern:     `(?i)\bbearer\s+[A-Za-z0-9_\-\.=]{16,}`,
			replacement: `Bearer __MASKED_TOKEN__`,
		},
		{
			name:        "password",
			pattern:     `(?i)(?:password|passwd|pwd)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
			replacement: `"password": "__MASKED_PASSWORD__"`,
		},
		{
			name:        "ssh_public_key",
			pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			replacement: `__MASKED_SSH_KEY__`,
		},
	}
}

// compilePatterns compiles the rule set, logging and skipping any pattern
// that fails to compile.
func compilePatterns(rules []pattern, logger *slog.Logger) []*compiledPattern {
	compiled := make([]*compiledPattern, 0, len(rules))
	for _, rule := range rules {
		regex, err := regexp.Compile(rule.pattern)
		if err != nil {
			logger.Error("Failed to compile masking pattern, skipping",
				"pattern", rule.name, "error", err)
			continue
		}
		compiled = append(compiled, &compiledPattern{
			name:        rule.name,
			regex:       regex,
			replacement: rule.replacement,
		})
	}
	return compiled
}
