package stringutils

// Truncate shortens a string to at most n characters, adding "..." if it was truncated.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Preview renders a raw frame for log lines.
func Preview(raw []byte) string {
	return Truncate(string(raw), 120)
}
