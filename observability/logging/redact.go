package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces secret values in log output.
const RedactedValue = "[REDACTED]"

// sensitiveMarkers flag keys that carry credentials: the riskd HMAC secret,
// node bearer tokens, webhook secrets, keystore passphrases and signatures.
var sensitiveMarkers = []string{"secret", "token", "passphrase", "password", "signature", "authorization"}

// safeKeys contain a marker but name reward-token addresses or market token
// amounts, never credentials.
var safeKeys = map[string]struct{}{
	"reward_token":  {},
	"tokens":        {},
	"redeem_tokens": {},
	"seize_tokens":  {},
}

// IsSensitive reports whether values logged under key must be masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if _, ok := safeKeys[normalized]; ok {
		return false
	}
	for _, marker := range sensitiveMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// MaskField returns key with its value masked when the key is sensitive.
// Empty values pass through so unset credentials stay visible as unset.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// redactAttr masks sensitive string attributes on every record.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !IsSensitive(attr.Key) {
		return attr
	}
	return MaskField(attr.Key, attr.Value.String())
}
