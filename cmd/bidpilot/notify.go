package main

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/bidpilot/internal/analysis"
	"github.com/jonathan/bidpilot/internal/events"
	"github.com/jonathan/bidpilot/internal/notify"
	"github.com/jonathan/bidpilot/internal/observability"
)

var (
	notifyTenant string
	notifyJob    string
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Run job-match alerts for an analysed job",
	Long: `Evaluate every active alert preference of the tenant against the job's
stored analysis and send alerts. Users already notified about the job are
skipped, so this only reaches users who became eligible since the job was
analysed.`,
	RunE: runNotify,
}

func init() {
	notifyCmd.Flags().StringVar(&notifyTenant, "tenant", "", "Tenant ID (required)")
	notifyCmd.Flags().StringVar(&notifyJob, "job", "", "Job ID (required)")
	_ = notifyCmd.MarkFlagRequired("tenant")
	_ = notifyCmd.MarkFlagRequired("job")
	rootCmd.AddCommand(notifyCmd)
}

func runNotify(cmd *cobra.Command, _ []string) error {
	tenantID, err := uuid.Parse(notifyTenant)
	if err != nil {
		return errors.Wrap(err, "invalid --tenant")
	}
	jobID, err := uuid.Parse(notifyJob)
	if err != nil {
		return errors.Wrap(err, "invalid --job")
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeStore()

	job, err := store.GetJobByID(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return errors.Newf("job %s not found", jobID)
	}
	stored, err := store.FindExistingAnalysis(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if stored == nil {
		return errors.WithHint(errors.Newf("job %s has not been analysed", jobID),
			"capture the job through the API or wait for the auto-scan sweep")
	}

	box, err := openSecrets(cfg, log)
	if err != nil {
		return err
	}
	var decrypter notify.Decrypter
	if box != nil {
		decrypter = box
	}
	bus := events.NewBus(log)
	registry, _, err := buildRegistry(cfg, bus)
	if err != nil {
		return err
	}

	engine := notify.NewEngine(store, registry, decrypter, notify.Options{
		Concurrency: cfg.NotifyConcurrency,
		SendTimeout: cfg.SendTimeout,
	}, log)
	summary, err := engine.ProcessJobMatchAlerts(ctx, tenantID, analysis.NewJobMatchAlert(*job, *stored))
	if err != nil {
		return err
	}
	bus.Wait()

	observability.NewPrinter(cmd.OutOrStdout()).PrintAlertSummary(summary)
	return nil
}
