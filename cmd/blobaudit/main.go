package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blobaudit/blobaudit/internal/config"
	"github.com/blobaudit/blobaudit/internal/logging"
	"github.com/blobaudit/blobaudit/internal/version"
	"github.com/blobaudit/blobaudit/pkg/audit"
	"github.com/blobaudit/blobaudit/pkg/formatter"
	"github.com/blobaudit/blobaudit/pkg/pricing"
	"github.com/blobaudit/blobaudit/pkg/progress"
	"github.com/blobaudit/blobaudit/pkg/report"
	"github.com/blobaudit/blobaudit/pkg/retry"
	"github.com/blobaudit/blobaudit/pkg/storage"
)

var (
	accountID      string
	resourceGroup  string
	retentionDays  int
	outputDir      string
	concurrency    int
	timeoutMinutes int
	resume         bool
	verbose        bool
	logFile        string
	configPath     string
	region         string
	bucketPrefix   string
	showVersion    bool
)

// startScanSpinner creates and starts a spinner for the audit phase
func startScanSpinner(account string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[9], 200*time.Millisecond)
	s.Suffix = fmt.Sprintf(" Auditing containers in %s ...", account)
	s.Start()
	return s
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blobaudit",
		Short: "Estimate the impact of a retention policy on an object-storage account",
		Long: `blobaudit enumerates every container in a storage account, buckets
objects by age, and reports what a proposed retention window would
delete and what that deletion would save per month.

Progress is written incrementally; an interrupted run can be resumed
with --resume without rescanning completed containers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("blobaudit version %s\n", version.Get())
				return nil
			}

			if accountID == "" {
				return fmt.Errorf("--account is required")
			}
			if !cmd.Flags().Changed("retention-days") {
				return fmt.Errorf("--retention-days is required")
			}
			if retentionDays < 0 {
				return fmt.Errorf("--retention-days must be >= 0")
			}

			return runAudit()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Flags().StringVarP(&accountID, "account", "a", "", "Storage account identifier (required)")
	rootCmd.Flags().StringVarP(&resourceGroup, "resource-group", "g", "", "Resource group of the account")
	rootCmd.Flags().IntVarP(&retentionDays, "retention-days", "d", 0, "Proposed retention window in days (required)")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for results and progress files")
	rootCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0,
		fmt.Sprintf("Parallel container scans (%d-%d, recommended <= %d)",
			config.MinConcurrency, config.MaxConcurrency, config.RecommendedConcurrency))
	rootCmd.Flags().IntVar(&timeoutMinutes, "timeout-minutes", 0, "Per-container timeout in minutes (0 disables)")
	rootCmd.Flags().BoolVar(&resume, "resume", false, "Resume the most recent run for this account")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Enable debug output")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Write a JSON log file")
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.Flags().StringVar(&region, "region", "us-east-1", "Storage endpoint region")
	rootCmd.Flags().StringVar(&bucketPrefix, "prefix", "", "Only audit containers whose name starts with this prefix")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version information")

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAudit() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(logging.Options{Verbose: verbose, LogFile: logFile})
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := progress.NewStore(cfg.Output.Directory, logger)
	if err != nil {
		return err
	}
	sink, err := report.NewSink(filepath.Join(cfg.Output.Directory, fmt.Sprintf("blobaudit-results-%s.csv", accountID)))
	if err != nil {
		return err
	}

	calc := pricing.NewCalculator(cfg.Pricing.CostPerGBMonth, cfg.Pricing.Currency)
	factory := storage.NewS3Factory(storage.S3Options{Region: region, Prefix: bucketPrefix})
	orchestrator := audit.New(factory, store, sink, calc, logger)

	opts := audit.Options{
		AccountID:           accountID,
		ResourceGroup:       resourceGroup,
		RetentionDays:       cfg.Audit.RetentionDays,
		Concurrency:         cfg.Audit.ConcurrencyLimit,
		Resume:              resume,
		TaskTimeout:         time.Duration(cfg.Audit.TimeoutMinutes) * time.Minute,
		CredentialThreshold: time.Duration(cfg.Audit.CredentialRenewMin) * time.Minute,
		Retry: retry.Options{
			MaxAttempts: cfg.Audit.MaxAttempts,
			Delay:       time.Duration(cfg.Audit.RetryDelaySeconds) * time.Second,
		},
		WarnDelay: 5 * time.Second,
		TopN:      cfg.Output.TopN,
	}

	fmt.Printf("Starting retention audit for %s (retention: %d days) ...\n", accountID, opts.RetentionDays)
	scanStartTime := time.Now()

	s := startScanSpinner(accountID)
	outcome, err := orchestrator.Run(ctx, opts)
	scanDuration := time.Since(scanStartTime)

	if err != nil {
		s.Stop()
		logger.Error("audit run failed", zap.Error(err))
		return err
	}

	s.FinalMSG = fmt.Sprintf("✓ [%d containers analyzed, %d failed] Audit completed in %.2f seconds\n",
		outcome.Summary.ContainersAnalyzed, outcome.Summary.ContainersFailed, scanDuration.Seconds())
	s.Stop()

	formatter.PrintResultsTable(outcome.Results, scanStartTime, scanDuration)
	formatter.PrintAgeBreakdown(outcome.Results)
	formatter.PrintSummary(outcome.Summary, cfg.Pricing.Currency)
	formatter.PrintFailures(outcome.Failures)
	formatter.PrintCompletionNotice(outcome.ProgressPath, outcome.ResultsPath, len(outcome.Failures))

	// Recorded per-container failures still exit zero: the run itself
	// completed and the failures are reported for a resumed retry.
	return nil
}

// loadConfig merges the config file (if any) with command-line flags;
// flags win. Config.Load validates file contents; flag overrides are
// left to the orchestrator, which clamps an out-of-range concurrency
// limit with a warning instead of refusing to run.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.NewDefault()
	}

	cfg.Audit.RetentionDays = retentionDays
	if concurrency != 0 {
		cfg.Audit.ConcurrencyLimit = concurrency
	}
	if timeoutMinutes != 0 {
		cfg.Audit.TimeoutMinutes = timeoutMinutes
	}
	if outputDir != "" {
		cfg.Output.Directory = outputDir
	}
	return cfg, nil
}
