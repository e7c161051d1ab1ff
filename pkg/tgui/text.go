package tgui

// TruncRunes returns s cut to at most n runes. A cut string ends with "…",
// which counts toward n.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count, cut := 0, 0
	for i := range s {
		if count == n-1 {
			cut = i
		}
		count++
		if count > n {
			return s[:cut] + "…"
		}
	}
	return s
}
