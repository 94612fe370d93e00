package submit

import (
	"context"

	"github.com/caseway/caseway/internal/cases"
	"github.com/caseway/caseway/internal/event"
	"github.com/caseway/caseway/internal/hpc"
	"github.com/caseway/caseway/internal/ledger"
	"github.com/caseway/caseway/internal/metrics"
	"github.com/caseway/caseway/internal/models"
	"github.com/caseway/caseway/pkg/log"
)

const (
	progressSubmitting = 10
	progressRunning    = 30
)

// Protocol moves newly detected cases onto the remote queue:
// claim a resource, transfer, submit, record the linkage. Each step
// is individually crash-safe; Recover resolves cases interrupted
// between the submitting transition and the persisted handle.
type Protocol struct {
	store  *cases.Store
	ledger *ledger.Ledger
	client hpc.Client
	bus    event.Bus
}

func New(store *cases.Store, ldg *ledger.Ledger, client hpc.Client, bus event.Bus) *Protocol {
	return &Protocol{
		store:  store,
		ledger: ldg,
		client: client,
		bus:    bus,
	}
}

// Process submits every case in submitted status, oldest first, one
// resource claim per case. It stops, without error, as soon as the
// resource pool is exhausted: contention is backpressure, not a
// failure, and the remaining cases wait for the next cycle.
func (p *Protocol) Process(ctx context.Context) error {
	pending, err := p.store.GetByStatus(ctx, models.CaseStatusSubmitted)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	log.Info("processing submitted cases", "count", len(pending))
	for i := range pending {
		c := &pending[i]

		resource, err := p.acquireResource(ctx, c.ID)
		if err != nil {
			return err
		}
		if resource == "" {
			log.Info("no resources available, deferring remaining cases",
				"deferred", len(pending)-i)
			break
		}

		if err := p.submitOne(ctx, c, resource); err != nil {
			return err
		}
	}

	return nil
}

// acquireResource reuses a resource already bound to the case from a
// prior partial attempt, claiming a fresh one only when none is held.
// Blindly claiming would leak a second resource after a crash between
// the claim and the submitting transition.
func (p *Protocol) acquireResource(ctx context.Context, caseID uint) (string, error) {
	resource, err := p.ledger.FindByCase(ctx, caseID)
	if err != nil {
		return "", err
	}
	if resource != "" {
		log.Info("reusing resource from prior attempt", "case_id", caseID, "resource", resource)
		return resource, nil
	}

	return p.ledger.ClaimAnyFor(ctx, caseID)
}

func (p *Protocol) submitOne(ctx context.Context, c *models.Case, resource string) error {
	log.Info("resource claimed for case", "case_id", c.ID, "resource", resource)

	if err := p.store.SetResource(ctx, c.ID, resource); err != nil {
		return err
	}
	// Recorded before any remote action so a crash past this point is
	// always detectable on restart.
	if err := p.store.SetStatus(ctx, c.ID, models.CaseStatusSubmitting); err != nil {
		return err
	}
	if err := p.store.SetProgress(ctx, c.ID, progressSubmitting); err != nil {
		return err
	}
	p.bus.Publish(event.New(event.TypeCaseSubmitted, c.ID, resource))

	handle, err := p.client.Submit(ctx, c.SourcePath, resource, c.Label())
	if err != nil {
		log.Error("remote submission failed", "case_id", c.ID, "error", err)
		metrics.SubmissionsTotal.WithLabelValues("failure").Inc()
		return p.failAndRelease(ctx, c.ID, resource)
	}

	if err := p.store.SetRemoteLink(ctx, c.ID, handle); err != nil {
		return err
	}
	if err := p.store.SetStatus(ctx, c.ID, models.CaseStatusRunning); err != nil {
		return err
	}
	if err := p.store.SetProgress(ctx, c.ID, progressRunning); err != nil {
		return err
	}

	metrics.SubmissionsTotal.WithLabelValues("success").Inc()
	p.bus.Publish(event.New(event.TypeCaseRunning, c.ID, resource))
	log.Info("case submitted", "case_id", c.ID, "resource", resource, "handle", handle)

	return nil
}

func (p *Protocol) failAndRelease(ctx context.Context, caseID uint, resource string) error {
	if err := p.store.MarkTerminal(ctx, caseID, models.CaseStatusFailed); err != nil {
		return err
	}
	if err := p.ledger.Release(ctx, caseID); err != nil {
		return err
	}

	metrics.CasesFinishedTotal.WithLabelValues(string(models.CaseStatusFailed)).Inc()
	p.bus.Publish(event.New(event.TypeCaseFailed, caseID, resource))
	log.Info("released resource for failed case", "case_id", caseID, "resource", resource)

	return nil
}

// Recover resolves cases stuck in submitting after a crash by looking
// the remote job up by its deterministic label. A found job is adopted
// as-is; resubmitting here is exactly the duplicate-job failure mode
// this pass exists to prevent. A reachable queue with no such job
// means the submission never completed, so the case fails and its
// resource is released. An unreachable queue decides nothing and the
// case is left for the next cycle.
func (p *Protocol) Recover(ctx context.Context) error {
	stuck, err := p.store.GetByStatus(ctx, models.CaseStatusSubmitting)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	log.Warn("found interrupted submissions, attempting recovery", "count", len(stuck))
	for i := range stuck {
		c := &stuck[i]

		outcome, handle := p.client.StatusByLabel(ctx, c.Label())
		switch outcome {
		case hpc.LookupFound:
			log.Warn("adopting orphaned remote job", "case_id", c.ID, "handle", handle)
			if err := p.store.SetRemoteLink(ctx, c.ID, handle); err != nil {
				return err
			}
			if err := p.store.SetStatus(ctx, c.ID, models.CaseStatusRunning); err != nil {
				return err
			}
			if err := p.store.SetProgress(ctx, c.ID, progressRunning); err != nil {
				return err
			}
			metrics.RecoveriesTotal.WithLabelValues("adopted").Inc()
			p.bus.Publish(event.New(event.TypeCaseRecovered, c.ID, c.ResourceName))

		case hpc.LookupNotFound:
			log.Warn("no remote job for interrupted case, marking failed", "case_id", c.ID)
			metrics.RecoveriesTotal.WithLabelValues("failed").Inc()
			if err := p.failAndRelease(ctx, c.ID, c.ResourceName); err != nil {
				return err
			}

		case hpc.LookupUnreachable:
			log.Warn("remote queue unreachable, deferring recovery", "case_id", c.ID)
			metrics.RemoteUnreachableTotal.WithLabelValues("recover").Inc()
		}
	}

	return nil
}
