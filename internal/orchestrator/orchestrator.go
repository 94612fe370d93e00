package orchestrator

import (
	"context"
	"time"

	"github.com/caseway/caseway/internal/cases"
	"github.com/caseway/caseway/internal/ledger"
	"github.com/caseway/caseway/internal/metrics"
	"github.com/caseway/caseway/internal/models"
	"github.com/caseway/caseway/internal/monitor"
	"github.com/caseway/caseway/internal/submit"
	"github.com/caseway/caseway/pkg/log"
)

// Orchestrator is the single-threaded scheduling driver. Each cycle
// runs, in strict order: submission crash recovery, quarantine
// reconciliation, monitoring of running cases, then submission of new
// cases. The correctness of the protocols depends on exactly one
// evaluation of each case per cycle, so cycles never overlap.
type Orchestrator struct {
	submitter *submit.Protocol
	monitorer *monitor.Protocol
	store     *cases.Store
	ledger    *ledger.Ledger
	interval  time.Duration
}

func New(
	submitter *submit.Protocol,
	monitorer *monitor.Protocol,
	store *cases.Store,
	ldg *ledger.Ledger,
	interval time.Duration,
) *Orchestrator {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &Orchestrator{
		submitter: submitter,
		monitorer: monitorer,
		store:     store,
		ledger:    ldg,
		interval:  interval,
	}
}

// Run drives cycles at the configured interval until the context is
// cancelled. Cycle errors are logged and absorbed: every fault in the
// core resolves to a state transition or a deferral, never a crash.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info("orchestration loop starting", "interval", o.interval.String())

	for {
		o.Cycle(ctx)

		if err := sleepWithContext(ctx, o.interval); err != nil {
			log.Info("orchestration loop stopping")
			return nil
		}
	}
}

// Cycle runs one full pass. Exported so tests and operators can drive
// single cycles deterministically.
func (o *Orchestrator) Cycle(ctx context.Context) {
	started := time.Now()

	if err := o.submitter.Recover(ctx); err != nil {
		log.Error("submission recovery pass failed", "error", err)
	}
	if err := o.monitorer.ReconcileQuarantined(ctx); err != nil {
		log.Error("quarantine reconciliation pass failed", "error", err)
	}
	if err := o.monitorer.Process(ctx); err != nil {
		log.Error("monitoring pass failed", "error", err)
	}
	if err := o.submitter.Process(ctx); err != nil {
		log.Error("submission pass failed", "error", err)
	}

	o.observeGauges(ctx)
	metrics.CycleDurationSeconds.Observe(time.Since(started).Seconds())
}

func (o *Orchestrator) observeGauges(ctx context.Context) {
	caseCounts, err := o.store.CountByStatus(ctx)
	if err != nil {
		log.Error("failed to count cases", "error", err)
		return
	}
	for _, status := range []models.CaseStatus{
		models.CaseStatusSubmitted,
		models.CaseStatusSubmitting,
		models.CaseStatusRunning,
		models.CaseStatusCompleted,
		models.CaseStatusFailed,
	} {
		metrics.CasesByStatus.WithLabelValues(string(status)).Set(float64(caseCounts[status]))
	}

	resourceCounts, err := o.ledger.CountByStatus(ctx)
	if err != nil {
		log.Error("failed to count resources", "error", err)
		return
	}
	for _, status := range []models.ResourceStatus{
		models.ResourceStatusAvailable,
		models.ResourceStatusAssigned,
		models.ResourceStatusQuarantined,
	} {
		metrics.ResourcesByStatus.WithLabelValues(string(status)).Set(float64(resourceCounts[status]))
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
