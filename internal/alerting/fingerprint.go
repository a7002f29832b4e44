package alerting

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint computes the deterministic digest of (source, metric, category)
// used to recognize the same underlying condition across repeated alerts.
// It identifies the condition, not the alert: alert identity stays the uuid.
func Fingerprint(source, metric, category string) string {
	normalize := func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	}

	h := sha256.New()
	h.Write([]byte(normalize(source)))
	h.Write([]byte{'|'})
	h.Write([]byte(normalize(metric)))
	h.Write([]byte{'|'})
	h.Write([]byte(normalize(category)))

	return hex.EncodeToString(h.Sum(nil))[:32]
}
