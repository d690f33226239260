// Package analyzer computes the per-container retention impact. Analysis
// is a pure function of the object listing, the retention window, and a
// caller-supplied "now": identical inputs produce identical results
// regardless of listing order, which is what makes resumed and
// uninterrupted runs comparable.
package analyzer

import (
	"time"

	"github.com/blobaudit/blobaudit/internal/models"
	"github.com/blobaudit/blobaudit/pkg/pricing"
	"github.com/blobaudit/blobaudit/pkg/utils"
)

// AgeBucket is one of the seven fixed day ranges used for distribution
// reporting. Buckets partition all ages exhaustively and disjointly.
type AgeBucket struct {
	Label   string
	MinDays int
	MaxDays int // -1 means unbounded
}

// Buckets lists the age buckets in ascending order. Boundaries are
// inclusive: an object aged exactly 7 days lands in "0-7", aged 8 days
// in "8-30", aged 366 days in "365+".
var Buckets = []AgeBucket{
	{Label: "0-7", MinDays: 0, MaxDays: 7},
	{Label: "8-30", MinDays: 8, MaxDays: 30},
	{Label: "31-60", MinDays: 31, MaxDays: 60},
	{Label: "61-90", MinDays: 61, MaxDays: 90},
	{Label: "91-180", MinDays: 91, MaxDays: 180},
	{Label: "181-365", MinDays: 181, MaxDays: 365},
	{Label: "365+", MinDays: 366, MaxDays: -1},
}

// BucketFor returns the bucket label for an object age in days.
func BucketFor(ageDays int) string {
	for _, b := range Buckets {
		if ageDays >= b.MinDays && (b.MaxDays < 0 || ageDays <= b.MaxDays) {
			return b.Label
		}
	}
	// Unreachable: the last bucket is unbounded and ages are >= 0.
	return Buckets[len(Buckets)-1].Label
}

// Analyze aggregates a container's object listing against a retention
// window. Deletion candidates are objects strictly older than
// retentionDays; an object exactly at the threshold is retained. An
// empty listing yields a zero-valued result, not an error.
func Analyze(container string, blobs []models.BlobInfo, retentionDays int, now time.Time, calc pricing.Calculator) models.ContainerResult {
	result := models.ContainerResult{
		Container:    container,
		BucketCounts: make(map[string]int64, len(Buckets)),
	}
	for _, b := range Buckets {
		result.BucketCounts[b.Label] = 0
	}

	for _, blob := range blobs {
		age := utils.AgeInDays(blob.LastModified, now)

		result.TotalBlobCount++
		result.TotalSizeBytes += blob.Size
		result.BucketCounts[BucketFor(age)]++

		if age > retentionDays {
			result.BlobsToDelete++
			result.SizeToDeleteBytes += blob.Size
		}
	}

	if result.TotalBlobCount > 0 {
		result.PercentToDelete = 100 * float64(result.BlobsToDelete) / float64(result.TotalBlobCount)
	}
	result.EstMonthlySavings = calc.MonthlySavings(result.SizeToDeleteBytes)

	return result
}
