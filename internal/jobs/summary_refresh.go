package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/cloo-solutions/carecontext/internal/logging"
)

// SummaryRefresher rebuilds every patient's summary entry.
type SummaryRefresher interface {
	RefreshAll(ctx context.Context) (int, error)
}

// SummaryRefreshJob keeps patient_summary entries current.
type SummaryRefreshJob struct {
	refresher SummaryRefresher
}

func NewSummaryRefreshJob(refresher SummaryRefresher) *SummaryRefreshJob {
	return &SummaryRefreshJob{refresher: refresher}
}

func (j *SummaryRefreshJob) Name() string {
	return "patient_summary_refresh"
}

// Run refreshes all patients. Individual failures are already logged by the
// refresher; the first one is returned so the run is reported as failed.
func (j *SummaryRefreshJob) Run(ctx context.Context) error {
	n, err := j.refresher.RefreshAll(ctx)
	logging.GetLogger(ctx).Info("patient summaries refreshed", zap.Int("patients", n))
	return err
}
