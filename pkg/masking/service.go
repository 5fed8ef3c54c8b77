// Package masking redacts secrets from tool results and execution logs
// before they are streamed or persisted. Two layers apply: literal
// occurrences of every secret stored in settings (asset passwords, SSH key
// material, provider credentials), then compiled regex patterns for secret
// shapes that never pass through settings (PEM blocks, bearer tokens,
// password pairs in command output).
package masking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/prismsec/prism/pkg/settings"
)

// redactionNotice replaces content that could not be safely masked.
const redactionNotice = "[REDACTED: data masking failure — tool result could not be safely processed]"

// maskedSecret replaces literal occurrences of stored secret values.
const maskedSecret = "__MASKED_SECRET__"

// SecretSource provides the settings snapshot whose stored secrets must be
// redacted. *settings.Store satisfies it.
type SecretSource interface {
	Get(ctx context.Context) (*settings.Snapshot, error)
}

// Service applies data masking to tool results and execution logs. Created
// once at application startup. Thread-safe and stateless aside from compiled
// patterns.
type Service struct {
	source   SecretSource
	patterns []*compiledPattern
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a masking service with eagerly compiled patterns.
// Invalid patterns are logged and skipped.
func NewService(source SecretSource, opts ...Option) *Service {
	s := &Service{
		source: source,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.patterns = compilePatterns(builtinPatterns(), s.logger)

	s.logger.Info("Masking service initialized", "compiled_patterns", len(s.patterns))
	return s
}

// Mask redacts secrets from a text payload, typically the serialised tool
// result streamed into a dialogue. Fail-closed: when the stored secrets
// cannot be loaded the whole payload is replaced with a redaction notice.
func (s *Service) Mask(ctx context.Context, text string) string {
	if text == "" {
		return text
	}
	replacements, err := s.secretReplacements(ctx)
	if err != nil {
		s.logger.Error("Masking failed, redacting content", "error", err)
		return redactionNotice
	}
	return s.maskText(text, replacements)
}

// MaskAny redacts secrets from an arbitrary decoded value, walking maps and
// lists and masking every string leaf. Non-string scalars pass through.
// Fail-closed like Mask.
func (s *Service) MaskAny(ctx context.Context, v any) any {
	if v == nil {
		return nil
	}
	replacements, err := s.secretReplacements(ctx)
	if err != nil {
		s.logger.Error("Masking failed, redacting content", "error", err)
		return redactionNotice
	}
	return s.maskValue(v, replacements)
}

// secretReplacements loads the stored secret values to redact. Each secret is
// matched both raw and in its JSON-escaped form, so multiline key material is
// caught inside serialised payloads too. A not-onboarded system has no stored
// secrets and masks by pattern only.
func (s *Service) secretReplacements(ctx context.Context) ([]string, error) {
	if s.source == nil {
		return nil, nil
	}
	snapshot, err := s.source.Get(ctx)
	if errors.Is(err, settings.ErrNotOnboarded) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var replacements []string
	for _, secret := range snapshot.SecretValues() {
		replacements = append(replacements, secret)
		if escaped := jsonEscape(secret); escaped != secret {
			replacements = append(replacements, escaped)
		}
	}
	return replacements, nil
}

func (s *Service) maskText(text string, replacements []string) string {
	masked := text
	for _, secret := range replacements {
		masked = strings.ReplaceAll(masked, secret, maskedSecret)
	}
	for _, pattern := range s.patterns {
		masked = pattern.regex.ReplaceAllString(masked, pattern.replacement)
	}
	return masked
}

func (s *Service) maskValue(v any, replacements []string) any {
	switch value := v.(type) {
	case string:
		return s.maskText(value, replacements)
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = s.maskValue(item, replacements)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = s.maskValue(item, replacements)
		}
		return out
	default:
		return v
	}
}

// jsonEscape returns the JSON string encoding of v without the surrounding
// quotes.
func jsonEscape(v string) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return v
	}
	return string(encoded[1 : len(encoded)-1])
}
