package formatter

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/blobaudit/blobaudit/internal/models"
	"github.com/blobaudit/blobaudit/pkg/utils"
)

// printTimestamp prints the scan timestamp and duration
func printTimestamp(scanStartTime time.Time, scanDuration time.Duration) {
	timeStr := scanStartTime.Format("2006-01-02 15:04:05")
	durationStr := fmt.Sprintf("%.2fs", scanDuration.Seconds())
	fmt.Printf("Scan completed at %s (took %s)\n", timeStr, durationStr)
}

// PrintResultsTable prints per-container retention impact as a table
func PrintResultsTable(results []models.ContainerResult, scanStartTime time.Time, scanDuration time.Duration) {
	if len(results) == 0 {
		fmt.Println("\nNo containers with objects found")
		return
	}

	// Sort by deletion size (descending), ties by name for stable output
	sorted := make([]models.ContainerResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].SizeToDeleteBytes != sorted[j].SizeToDeleteBytes {
			return sorted[i].SizeToDeleteBytes > sorted[j].SizeToDeleteBytes
		}
		return sorted[i].Container < sorted[j].Container
	})

	printTimestamp(scanStartTime, scanDuration)

	fmt.Println("\nRETENTION IMPACT BY CONTAINER:")
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "CONTAINER\tOBJECTS\tTOTAL SIZE\tTO DELETE\tDELETE SIZE\tPERCENT\tEST MONTHLY SAVINGS")

	for _, r := range sorted {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\t%s\t$%.2f\n",
			r.Container,
			r.TotalBlobCount,
			utils.FormatBytes(r.TotalSizeBytes),
			r.BlobsToDelete,
			utils.FormatBytes(r.SizeToDeleteBytes),
			utils.FormatPercent(r.PercentToDelete),
			r.EstMonthlySavings,
		)
	}
	w.Flush()
	fmt.Printf("\nShowing %d containers with objects\n", len(sorted))
}
