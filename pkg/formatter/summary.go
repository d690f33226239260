package formatter

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/blobaudit/blobaudit/internal/models"
	"github.com/blobaudit/blobaudit/pkg/analyzer"
	"github.com/blobaudit/blobaudit/pkg/utils"
)

// PrintSummary prints the run-level aggregate and cost projections
func PrintSummary(summary models.Summary, currency string) {
	fmt.Println("\nSUMMARY:")
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("Containers analyzed: %d\n", summary.ContainersAnalyzed)
	if summary.ContainersFailed > 0 {
		color.Red("Containers failed: %d", summary.ContainersFailed)
	}
	fmt.Printf("Total objects: %d (%s)\n", summary.TotalBlobCount, utils.FormatBytes(summary.TotalSizeBytes))
	fmt.Printf("Deletion candidates: %d (%s)\n", summary.BlobsToDelete, utils.FormatBytes(summary.SizeToDeleteBytes))
	fmt.Printf("Percent affected: %s\n", utils.FormatPercent(summary.PercentAffected))

	savings := color.New(color.FgGreen, color.Bold)
	savings.Printf("Estimated monthly savings: %.2f %s\n", summary.MonthlySavings, currency)
	savings.Printf("Estimated annual savings: %.2f %s\n", summary.AnnualSavings, currency)
	fmt.Println(strings.Repeat("-", 80))

	if len(summary.TopByDeletionSize) > 0 {
		fmt.Printf("\nTOP %d CONTAINERS BY DELETION SIZE:\n", len(summary.TopByDeletionSize))
		for i, r := range summary.TopByDeletionSize {
			fmt.Printf("  %d. %-32s %s (%d objects)\n",
				i+1, r.Container, utils.FormatBytes(r.SizeToDeleteBytes), r.BlobsToDelete)
		}
	}
}

// aggregateBuckets sums per-bucket counts across results. Rows loaded
// from a prior run's results file carry no age distribution (the CSV
// does not persist it); those are counted separately so the breakdown
// can say what it omits rather than report them as zeros.
func aggregateBuckets(results []models.ContainerResult) (map[string]int64, int) {
	totals := make(map[string]int64)
	omitted := 0
	for _, r := range results {
		if len(r.BucketCounts) == 0 {
			omitted++
			continue
		}
		for label, count := range r.BucketCounts {
			totals[label] += count
		}
	}
	return totals, omitted
}

// PrintAgeBreakdown prints the object age distribution across all
// containers analyzed in this run
func PrintAgeBreakdown(results []models.ContainerResult) {
	if len(results) == 0 {
		return
	}

	totals, omitted := aggregateBuckets(results)
	if len(totals) == 0 {
		fmt.Printf("\nAGE BREAKDOWN: not available (%d containers carried over from a previous run)\n", omitted)
		return
	}

	fmt.Println("\nAGE BREAKDOWN:")
	for _, bucket := range analyzer.Buckets {
		fmt.Printf("  %-8s days: %d objects\n", bucket.Label, totals[bucket.Label])
	}
	if omitted > 0 {
		fmt.Printf("  (%d containers carried over from a previous run are not included)\n", omitted)
	}
}

// PrintFailures lists failed containers with resumption guidance
func PrintFailures(failures []models.FailureRecord) {
	if len(failures) == 0 {
		return
	}

	color.Red("\nFAILED CONTAINERS (%d):", len(failures))
	for _, f := range failures {
		fmt.Printf("  - %s: %s\n", f.Container, f.Reason)
	}
	fmt.Println("\nFailed containers were not marked complete. Rerun with --resume to retry them.")
}

// PrintCompletionNotice tells the operator what survived on disk and
// when the progress file is safe to discard
func PrintCompletionNotice(progressPath, resultsPath string, failed int) {
	fmt.Printf("\nResults written to %s\n", resultsPath)
	if failed == 0 {
		fmt.Printf("Run fully complete. Progress file %s is safe to delete.\n", progressPath)
	} else {
		fmt.Printf("Progress saved to %s (keep it for --resume).\n", progressPath)
	}
}
