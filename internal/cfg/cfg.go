// Package cfg holds the app-level configuration for the run coordinator.
package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds coordinator-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DatabaseURL string

	AcquisitionRoot string
	AnalysisRoot    string
	ArchiveRoot     string
	KioskDir        string

	ScheduleTickSeconds  int
	ReconcileTickSeconds int
	SlackWindowMinutes   int

	SbatchCommand   string
	ScontrolCommand string

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.AcquisitionRoot, "acquisition-root", "", "hot tier root directory the instrument writes into")
	fs.StringVar(&c.AnalysisRoot, "analysis-root", "", "analysis working tier root directory")
	fs.StringVar(&c.ArchiveRoot, "archive-root", "", "archive tier root directory")
	fs.StringVar(&c.KioskDir, "kiosk-dir", "", "drop directory the instrument kiosk polls for dispatched reads")
	fs.IntVar(&c.ScheduleTickSeconds, "schedule-tick-seconds", 15, "period of the read scheduler tick (1..3600)")
	fs.IntVar(&c.ReconcileTickSeconds, "reconcile-tick-seconds", 60, "period of the job reconcile tick (1..3600)")
	fs.IntVar(&c.SlackWindowMinutes, "slack-window-minutes", 360, "window in which an upcoming NORMAL read blocks LOW dispatch (1..1440)")
	fs.StringVar(&c.SbatchCommand, "sbatch-command", "sbatch", "batch submission command")
	fs.StringVar(&c.ScontrolCommand, "scontrol-command", "scontrol", "batch state query command")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for run event notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// All three storage tiers must be rooted somewhere
	if c.AcquisitionRoot == "" {
		errs = append(errs, errors.New("ACQUISITION_ROOT is required"))
	}
	if c.AnalysisRoot == "" {
		errs = append(errs, errors.New("ANALYSIS_ROOT is required"))
	}
	if c.ArchiveRoot == "" {
		errs = append(errs, errors.New("ARCHIVE_ROOT is required"))
	}

	if c.KioskDir == "" {
		errs = append(errs, errors.New("KIOSK_DIR is required"))
	}

	if c.ScheduleTickSeconds <= 0 || c.ScheduleTickSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid SCHEDULE_TICK_SECONDS %d (must be 1..3600)", c.ScheduleTickSeconds))
	}
	if c.ReconcileTickSeconds <= 0 || c.ReconcileTickSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid RECONCILE_TICK_SECONDS %d (must be 1..3600)", c.ReconcileTickSeconds))
	}
	if c.SlackWindowMinutes <= 0 || c.SlackWindowMinutes > 1440 {
		errs = append(errs, fmt.Errorf("invalid SLACK_WINDOW_MINUTES %d (must be 1..1440)", c.SlackWindowMinutes))
	}

	if c.SbatchCommand == "" {
		errs = append(errs, errors.New("SBATCH_COMMAND is required"))
	}
	if c.ScontrolCommand == "" {
		errs = append(errs, errors.New("SCONTROL_COMMAND is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
