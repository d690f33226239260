package utils

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// FormatBytes renders a byte count in IEC units (KiB, MiB, ...)
func FormatBytes(bytes int64) string {
	return humanize.IBytes(uint64(bytes))
}

// FormatPercent renders a percentage with one decimal place
func FormatPercent(pct float64) string {
	return fmt.Sprintf("%.1f%%", pct)
}
