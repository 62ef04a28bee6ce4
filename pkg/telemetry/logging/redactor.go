package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redactor strips secrets from log attributes: approval tokens, key
// material, and connection passwords. Item identifiers are not secrets and
// pass through.
type Redactor struct {
	keys     []string
	patterns []*regexp.Regexp
}

const redacted = "***"

// NewRedactor creates a redactor with the built-in rules.
func NewRedactor() *Redactor {
	return &Redactor{
		keys: []string{"token", "password", "secret", "key_material", "share", "data_key"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(token|password)[:=]\s*[^\s,]+`),
			regexp.MustCompile(`redis://[^:@/\s]*:[^@\s]+@`),
		},
	}
}

// IsSensitiveKey reports whether an attribute key carries a secret.
func (r *Redactor) IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range r.keys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// RedactString masks inline secrets in a free-form value.
func (r *Redactor) RedactString(value string) string {
	for _, p := range r.patterns {
		value = p.ReplaceAllStringFunc(value, func(m string) string {
			if i := strings.IndexAny(m, ":="); i >= 0 && !strings.HasPrefix(m, "redis://") {
				return m[:i+1] + redacted
			}
			return "redis://" + redacted + "@"
		})
	}
	return value
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	if r.IsSensitiveKey(a.Key) {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() == slog.KindString {
		if s := a.Value.String(); s != "" {
			if out := r.RedactString(s); out != s {
				return slog.String(a.Key, out)
			}
		}
	}
	return a
}
