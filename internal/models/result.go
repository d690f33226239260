package models

// ContainerResult is the aggregate outcome of analyzing one container
// against a retention window
type ContainerResult struct {
	Container         string
	TotalBlobCount    int64
	TotalSizeBytes    int64
	BlobsToDelete     int64
	SizeToDeleteBytes int64
	PercentToDelete   float64 // 100 * BlobsToDelete / TotalBlobCount, 0 when empty
	EstMonthlySavings float64 // USD per month at the configured storage rate

	// BucketCounts holds the age distribution, indexed by bucket label
	// in ascending age order ("0-7" .. "365+")
	BucketCounts map[string]int64
}

// FailureRecord marks a container whose processing failed for this run.
// Failed containers are not added to the completed set and remain
// eligible for a resumed run.
type FailureRecord struct {
	Container string
	Reason    string
}

// Summary aggregates every ContainerResult present at the end of a run,
// including rows loaded from a resumed run's results file.
type Summary struct {
	ContainersAnalyzed int
	ContainersFailed   int
	TotalBlobCount     int64
	TotalSizeBytes     int64
	BlobsToDelete      int64
	SizeToDeleteBytes  int64
	PercentAffected    float64
	MonthlySavings     float64
	AnnualSavings      float64

	// TopByDeletionSize lists the N largest contributors by
	// SizeToDeleteBytes, descending, ties broken by container name.
	TopByDeletionSize []ContainerResult
}
