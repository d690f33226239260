package utils

import "time"

// AgeInDays returns the whole number of days between now and a
// last-modified timestamp. Negative ages (clock skew, future-dated
// objects) clamp to zero so bucket assignment stays defined.
func AgeInDays(lastModified, now time.Time) int {
	days := int(now.Sub(lastModified).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// RunTimestamp formats a run start time into the identifier embedded in
// progress file names. Lexical order equals chronological order.
func RunTimestamp(t time.Time) string {
	return t.Format("20060102-150405")
}
