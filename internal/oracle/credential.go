package oracle

import "strings"

const (
	credentialPrefix = "AIza"
	credentialLength = 39
)

// ValidCredential reports whether key has the shape of a Gemini API key.
// It does not call the provider.
func ValidCredential(key string) bool {
	if len(key) != credentialLength || !strings.HasPrefix(key, credentialPrefix) {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// ResolveCredential picks the caller's key when it is well formed and the
// server default otherwise.
func ResolveCredential(supplied, fallback string) string {
	if key := strings.TrimSpace(supplied); ValidCredential(key) {
		return key
	}
	return fallback
}
