package util

// MaskSecret keeps only the last few characters of a token so log lines can
// tell credentials apart without revealing them.
func MaskSecret(s string) string {
	if s == "" {
		return "<empty>"
	}
	if len(s) < 20 {
		return "***"
	}
	return "..." + s[len(s)-6:]
}
