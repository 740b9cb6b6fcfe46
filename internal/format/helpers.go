package format

import (
	"fmt"
	"time"
)

// FmtDuration formats a duration as "1m 5s", "3.2s" or "250ms".
func FmtDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		s := int(d.Seconds())
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	case d >= time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

// FmtMillis formats a millisecond count like FmtDuration.
func FmtMillis(ms int64) string {
	return FmtDuration(time.Duration(ms) * time.Millisecond)
}

// Truncate shortens s to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// BoolMark returns "✓" for true and "✗" for false.
func BoolMark(v bool) string {
	if v {
		return "✓"
	}
	return "✗"
}
