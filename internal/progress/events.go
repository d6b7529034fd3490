package progress

import (
	"fmt"
	"strings"
)

// Func receives progress events. total == 0 marks a setup or status
// message; total > 0 marks progress current/total. info may carry
// " | "-separated segments, with a rate like "5.3 files/s" second.
type Func func(current, total int, filePath, info string)

// FormatRate builds the info string "<label> | <rate> <unit>/s".
func FormatRate(label string, rate float64, unit string) string {
	return fmt.Sprintf("%s | %.1f %s/s", label, rate, unit)
}

// ParseRate extracts the rate value from an info string. Consumers read
// the first whitespace-delimited token of the second segment; missing
// segments yield ok == false.
func ParseRate(info string) (float64, bool) {
	segments := strings.Split(info, " | ")
	if len(segments) < 2 {
		return 0, false
	}
	fields := strings.Fields(segments[1])
	if len(fields) == 0 {
		return 0, false
	}
	var rate float64
	if _, err := fmt.Sscanf(fields[0], "%f", &rate); err != nil {
		return 0, false
	}
	return rate, true
}
