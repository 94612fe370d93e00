package monitor

import (
	"context"
	"time"

	"github.com/caseway/caseway/internal/cases"
	"github.com/caseway/caseway/internal/event"
	"github.com/caseway/caseway/internal/hpc"
	"github.com/caseway/caseway/internal/ledger"
	"github.com/caseway/caseway/internal/metrics"
	"github.com/caseway/caseway/internal/models"
	"github.com/caseway/caseway/pkg/log"
)

// Protocol polls linked remote jobs for running cases, enforces the
// wall-clock timeout, and drives resource release. Resources whose
// remote job could not be confirmed dead are quarantined and retried
// by ReconcileQuarantined until a kill is confirmed.
type Protocol struct {
	store   *cases.Store
	ledger  *ledger.Ledger
	client  hpc.Client
	bus     event.Bus
	timeout time.Duration
	now     func() time.Time
}

func New(store *cases.Store, ldg *ledger.Ledger, client hpc.Client, bus event.Bus, timeout time.Duration) *Protocol {
	return &Protocol{
		store:   store,
		ledger:  ldg,
		client:  client,
		bus:     bus,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Process checks every running case. The timeout check runs first and
// unconditionally, before any remote query: were it gated behind a
// successful status query, a prolonged remote outage would pause the
// timeout clock and let a case run far past its limit once
// connectivity returns.
func (m *Protocol) Process(ctx context.Context) error {
	running, err := m.store.GetByStatus(ctx, models.CaseStatusRunning)
	if err != nil {
		return err
	}
	if len(running) == 0 {
		return nil
	}

	log.Info("checking running cases", "count", len(running))
	for i := range running {
		if err := m.checkOne(ctx, &running[i]); err != nil {
			return err
		}
	}

	return nil
}

func (m *Protocol) checkOne(ctx context.Context, c *models.Case) error {
	if c.RemoteJobID == "" {
		// Should be unreachable: running implies a persisted handle.
		log.Error("running case has no remote job handle, marking failed", "case_id", c.ID)
		return m.failAndRelease(ctx, c)
	}

	if age := m.now().Sub(c.StatusChangedAt); age > m.timeout {
		return m.handleTimeout(ctx, c, age)
	}

	status := m.client.StatusByHandle(ctx, c.RemoteJobID)
	log.Info("remote status for case", "case_id", c.ID, "handle", c.RemoteJobID, "status", status)

	switch status {
	case hpc.StatusSuccess:
		if err := m.store.MarkTerminal(ctx, c.ID, models.CaseStatusCompleted); err != nil {
			return err
		}
		if err := m.ledger.Release(ctx, c.ID); err != nil {
			return err
		}
		metrics.CasesFinishedTotal.WithLabelValues(string(models.CaseStatusCompleted)).Inc()
		m.bus.Publish(event.New(event.TypeCaseCompleted, c.ID, c.ResourceName))
		log.Info("case completed, resource released", "case_id", c.ID, "resource", c.ResourceName)

	case hpc.StatusFailure:
		log.Error("remote job failed", "case_id", c.ID, "handle", c.RemoteJobID)
		return m.failAndRelease(ctx, c)

	case hpc.StatusNotFound:
		// The job vanished from remote queue history, which could mean
		// either success or failure. Resolve pessimistically, but keep
		// the ambiguity visible to operators instead of folding it into
		// confirmed failures.
		log.Warn("remote job vanished from queue history, resolving pessimistically",
			"case_id", c.ID, "handle", c.RemoteJobID)
		metrics.AmbiguousOutcomesTotal.Inc()
		return m.failAndRelease(ctx, c)

	case hpc.StatusRunning:
		// Still going.

	case hpc.StatusUnreachable:
		log.Warn("remote queue unreachable, deferring status check", "case_id", c.ID)
		metrics.RemoteUnreachableTotal.WithLabelValues("status").Inc()
	}

	return nil
}

// handleTimeout resolves a case that exceeded the configured running
// threshold. An unconfirmed kill must not free the resource: the
// remote job may still be occupying it, so the resource is
// quarantined with the case binding retained until a later
// reconciliation confirms the kill.
func (m *Protocol) handleTimeout(ctx context.Context, c *models.Case, age time.Duration) error {
	log.Error("case timed out", "case_id", c.ID, "handle", c.RemoteJobID,
		"age", age.String(), "timeout", m.timeout.String())
	metrics.TimeoutsTotal.Inc()

	if m.client.Kill(ctx, c.RemoteJobID) {
		log.Info("kill confirmed for timed-out case, releasing resource",
			"case_id", c.ID, "resource", c.ResourceName)
		return m.failAndRelease(ctx, c)
	}

	log.Error("kill not confirmed, quarantining resource",
		"case_id", c.ID, "resource", c.ResourceName)
	if err := m.ledger.Quarantine(ctx, c.ID); err != nil {
		return err
	}
	if err := m.store.MarkTerminal(ctx, c.ID, models.CaseStatusFailed); err != nil {
		return err
	}

	metrics.CasesFinishedTotal.WithLabelValues(string(models.CaseStatusFailed)).Inc()
	m.bus.Publish(event.New(event.TypeResourceQuarantined, c.ID, c.ResourceName))

	return nil
}

func (m *Protocol) failAndRelease(ctx context.Context, c *models.Case) error {
	if err := m.store.MarkTerminal(ctx, c.ID, models.CaseStatusFailed); err != nil {
		return err
	}
	if err := m.ledger.Release(ctx, c.ID); err != nil {
		return err
	}

	metrics.CasesFinishedTotal.WithLabelValues(string(models.CaseStatusFailed)).Inc()
	m.bus.Publish(event.New(event.TypeCaseFailed, c.ID, c.ResourceName))

	return nil
}

// ReconcileQuarantined re-attempts the kill for every quarantined
// resource. Only a confirmed kill returns the resource to the
// claimable pool; until then it stays excluded.
func (m *Protocol) ReconcileQuarantined(ctx context.Context) error {
	quarantined, err := m.ledger.ListQuarantined(ctx)
	if err != nil {
		return err
	}
	if len(quarantined) == 0 {
		return nil
	}

	log.Warn("attempting to reclaim quarantined resources", "count", len(quarantined))
	for _, resource := range quarantined {
		if resource.AssignedCaseID == nil {
			log.Error("quarantined resource has no bound case, manual intervention required",
				"resource", resource.Name)
			continue
		}

		caseID := *resource.AssignedCaseID
		c, err := m.store.Get(ctx, caseID)
		if err != nil || c.RemoteJobID == "" {
			log.Error("cannot resolve remote job for quarantined resource, manual intervention required",
				"resource", resource.Name, "case_id", caseID)
			continue
		}

		if !m.client.Kill(ctx, c.RemoteJobID) {
			log.Warn("kill still not confirmed, resource stays quarantined",
				"resource", resource.Name, "handle", c.RemoteJobID)
			metrics.RemoteUnreachableTotal.WithLabelValues("kill").Inc()
			continue
		}

		if err := m.ledger.Release(ctx, caseID); err != nil {
			return err
		}
		m.bus.Publish(event.New(event.TypeResourceReleased, caseID, resource.Name))
		log.Info("kill confirmed, quarantined resource released",
			"resource", resource.Name, "case_id", caseID)
	}

	return nil
}
