package utils

import (
	"fmt"
	"strings"
	"time"
)

// Now is the wall clock used for frame receive stamps. Tests replace it.
var Now = time.Now

// FormatDuration renders durations for logs and the console: milliseconds
// below a second, two decimals below a minute, whole units above.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + FormatDuration(-d)
	}
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// FormatTimestamp renders t as RFC 3339.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

const isoMillis = "2006-01-02T15:04:05.000Z"

var fileTimestampReplacer = strings.NewReplacer(":", "-", ".", "-")

// FileTimestamp renders t as a UTC ISO 8601 timestamp with millisecond
// precision that is safe in a file name, e.g. 2024-03-01T10-15-30-250Z.
func FileTimestamp(t time.Time) string {
	return fileTimestampReplacer.Replace(t.UTC().Format(isoMillis))
}

// ParseFileTimestamp reverses FileTimestamp.
func ParseFileTimestamp(s string) (time.Time, error) {
	if len(s) != len(isoMillis) {
		return time.Time{}, fmt.Errorf("invalid file timestamp %q", s)
	}
	// restore the separators FileTimestamp replaced: hh:mm:ss.mmm
	iso := []byte(s)
	iso[13], iso[16], iso[19] = ':', ':', '.'
	t, err := time.Parse(isoMillis, string(iso))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid file timestamp %q: %w", s, err)
	}
	return t, nil
}
