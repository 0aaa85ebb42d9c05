// Package privacylog keeps wallet and messaging identifiers out of log output.
package privacylog

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const redactedValue = "[REDACTED]"

var (
	bootNonce          = randomNonce()
	disallowedPlainIDs = map[string]struct{}{
		"address":          {},
		"wallet_address":   {},
		"peer_address":     {},
		"inbox_id":         {},
		"peer_inbox_id":    {},
		"installation_id":  {},
		"message_id":       {},
		"ref_id":           {},
		"group_id":         {},
		"conversation_id":  {},
		"conversation_key": {},
	}
	sensitiveKeyParts = []string{"token", "secret", "password", "passphrase", "authorization", "mnemonic", "private_key", "db_key"}
)

// Fields sanitizes alternating key/value pairs for zerolog's Event.Fields.
// A trailing key without a value is dropped.
func Fields(args ...any) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		value := args[i+1]
		lowerKey := strings.ToLower(strings.TrimSpace(key))
		switch {
		case isSensitiveKey(lowerKey):
			out = append(out, key, redactedValue)
		case shouldFingerprintKey(lowerKey):
			out = append(out, fingerprintKeyName(key), FingerprintID(fmt.Sprint(value)))
		default:
			out = append(out, key, value)
		}
	}
	return out
}

// With attaches sanitized fields to ev and returns it for chaining.
func With(ev *zerolog.Event, args ...any) *zerolog.Event {
	if ev == nil {
		return nil
	}
	return ev.Fields(Fields(args...))
}

// FingerprintID maps an identifier to a per-process stable, non-reversible token.
func FingerprintID(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(trimmed + "|" + bootNonce))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func shouldFingerprintKey(key string) bool {
	_, ok := disallowedPlainIDs[key]
	return ok
}

func fingerprintKeyName(key string) string {
	if strings.HasSuffix(strings.ToLower(strings.TrimSpace(key)), "_fp") {
		return key
	}
	return key + "_fp"
}

func isSensitiveKey(key string) bool {
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "fallback_nonce"
	}
	return hex.EncodeToString(buf)
}
