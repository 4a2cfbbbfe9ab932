package logger

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

var (
	secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|passw(or)?d|api[_-]?key|authorization|credential|private[_-]?key)`)
	phoneKeyPattern  = regexp.MustCompile(`(?i)^(phone|phone_number|msisdn|to|from|whatsapp|recipient)$`)
)

// Phone builds a field whose value is masked to country code + last 4 digits.
func Phone(key, value string) zap.Field {
	return zap.String(key, MaskPhone(value))
}

// MaskPhone keeps the country code and the last four digits of a phone number.
// Numbers without a leading '+' keep only the last four digits.
func MaskPhone(value string) string {
	var digits strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) <= 4 {
		return strings.Repeat("*", len(d))
	}

	prefix := ""
	if strings.HasPrefix(strings.TrimSpace(value), "+") {
		cc := 2
		// +1 (NANP) and +7 are single-digit country codes.
		if d[0] == '1' || d[0] == '7' {
			cc = 1
		}
		if len(d)-4 > cc {
			prefix = "+" + d[:cc]
			d = d[cc:]
		}
	}
	return prefix + strings.Repeat("*", len(d)-4) + d[len(d)-4:]
}

// redactingCore rewrites sensitive fields before they reach the wrapped core.
type redactingCore struct {
	zapcore.Core
}

// NewRedactingCore wraps core so secret-named fields are blanked and phone
// fields are masked.
func NewRedactingCore(core zapcore.Core) zapcore.Core {
	return &redactingCore{Core: core}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *redactingCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(entry, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = redactField(f)
	}
	return out
}

func redactField(f zapcore.Field) zapcore.Field {
	switch {
	case secretKeyPattern.MatchString(f.Key):
		return zap.String(f.Key, redacted)
	case f.Type == zapcore.StringType && phoneKeyPattern.MatchString(f.Key):
		return zap.String(f.Key, MaskPhone(f.String))
	default:
		return f
	}
}
