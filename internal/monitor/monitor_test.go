package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/caseway/caseway/internal/cases"
	"github.com/caseway/caseway/internal/event"
	"github.com/caseway/caseway/internal/hpc"
	"github.com/caseway/caseway/internal/ledger"
	"github.com/caseway/caseway/internal/metrics"
	"github.com/caseway/caseway/internal/models"
	"github.com/caseway/caseway/internal/testutil"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	status      hpc.JobStatus
	killResult  bool
	statusCalls int
	killCalls   int
}

func (f *fakeClient) Submit(context.Context, string, string, string) (string, error) {
	return "", nil
}

func (f *fakeClient) StatusByHandle(context.Context, string) hpc.JobStatus {
	f.statusCalls++
	return f.status
}

func (f *fakeClient) StatusByLabel(context.Context, string) (hpc.LookupOutcome, string) {
	return hpc.LookupNotFound, ""
}

func (f *fakeClient) Kill(context.Context, string) bool {
	f.killCalls++
	return f.killResult
}

type fixture struct {
	store  *cases.Store
	ledger *ledger.Ledger
	client *fakeClient
	proto  *Protocol
}

func newFixture(t *testing.T, client *fakeClient, timeout time.Duration) *fixture {
	t.Helper()

	db := testutil.OpenTestDB(t)
	t.Cleanup(func() {
		testutil.CloseDB(db)
	})

	store := cases.New(db)
	ldg := ledger.New(db)

	return &fixture{
		store:  store,
		ledger: ldg,
		client: client,
		proto:  New(store, ldg, client, event.NewBus(), timeout),
	}
}

// seedRunning creates a case in running status bound to gpu0 with the
// given handle.
func (f *fixture) seedRunning(t *testing.T, handle string) *models.Case {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.ledger.Ensure(ctx, "gpu0"))
	c, err := f.store.Create(ctx, "new_cases/c1", nil)
	require.NoError(t, err)
	_, err = f.ledger.ClaimAnyFor(ctx, c.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.SetResource(ctx, c.ID, "gpu0"))
	if handle != "" {
		require.NoError(t, f.store.SetRemoteLink(ctx, c.ID, handle))
	}
	require.NoError(t, f.store.SetStatus(ctx, c.ID, models.CaseStatusRunning))

	return c
}

func (f *fixture) resource(t *testing.T) models.Resource {
	t.Helper()

	resources, err := f.ledger.List(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 1)
	return resources[0]
}

func TestSuccessCompletesCaseAndReleasesResource(t *testing.T) {
	f := newFixture(t, &fakeClient{status: hpc.StatusSuccess}, time.Hour)
	c := f.seedRunning(t, "42")
	ctx := context.Background()

	require.NoError(t, f.proto.Process(ctx))

	stored, err := f.store.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusCompleted, stored.Status)
	require.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.CompletedAt)

	resource := f.resource(t)
	require.Equal(t, models.ResourceStatusAvailable, resource.Status)
	require.Nil(t, resource.AssignedCaseID)
}

func TestFailureFailsCaseAndReleasesResource(t *testing.T) {
	f := newFixture(t, &fakeClient{status: hpc.StatusFailure}, time.Hour)
	c := f.seedRunning(t, "42")
	ctx := context.Background()

	require.NoError(t, f.proto.Process(ctx))

	stored, err := f.store.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusFailed, stored.Status)
	require.Equal(t, models.ResourceStatusAvailable, f.resource(t).Status)
}

func TestNotFoundResolvesPessimisticallyAndFlagsAmbiguity(t *testing.T) {
	f := newFixture(t, &fakeClient{status: hpc.StatusNotFound}, time.Hour)
	c := f.seedRunning(t, "42")
	ctx := context.Background()

	before := promtestutil.ToFloat64(metrics.AmbiguousOutcomesTotal)
	require.NoError(t, f.proto.Process(ctx))

	stored, err := f.store.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusFailed, stored.Status)
	require.Equal(t, models.ResourceStatusAvailable, f.resource(t).Status)

	// Ambiguity is recorded distinctly, not folded into confirmed failures.
	require.Equal(t, before+1, promtestutil.ToFloat64(metrics.AmbiguousOutcomesTotal))
}

func TestRunningAndUnreachableDefer(t *testing.T) {
	for _, status := range []hpc.JobStatus{hpc.StatusRunning, hpc.StatusUnreachable} {
		f := newFixture(t, &fakeClient{status: status}, time.Hour)
		c := f.seedRunning(t, "42")
		ctx := context.Background()

		require.NoError(t, f.proto.Process(ctx))

		stored, err := f.store.Get(ctx, c.ID)
		require.NoError(t, err)
		require.Equal(t, models.CaseStatusRunning, stored.Status)
		require.Equal(t, models.ResourceStatusAssigned, f.resource(t).Status)
	}
}

func TestTimeoutTakesPrecedenceOverStatusQuery(t *testing.T) {
	f := newFixture(t, &fakeClient{status: hpc.StatusRunning, killResult: true}, time.Minute)
	c := f.seedRunning(t, "42")
	ctx := context.Background()

	f.proto.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }

	require.NoError(t, f.proto.Process(ctx))

	stored, err := f.store.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusFailed, stored.Status)
	require.Equal(t, models.ResourceStatusAvailable, f.resource(t).Status)

	// The remote status was never consulted for the timed-out case.
	require.Zero(t, f.client.statusCalls)
	require.Equal(t, 1, f.client.killCalls)
}

func TestTimeoutWithUnconfirmedKillQuarantinesResource(t *testing.T) {
	f := newFixture(t, &fakeClient{status: hpc.StatusRunning, killResult: false}, time.Minute)
	c := f.seedRunning(t, "42")
	ctx := context.Background()

	f.proto.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }

	require.NoError(t, f.proto.Process(ctx))

	stored, err := f.store.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusFailed, stored.Status)

	resource := f.resource(t)
	require.Equal(t, models.ResourceStatusQuarantined, resource.Status)
	require.NotNil(t, resource.AssignedCaseID)
	require.Equal(t, c.ID, *resource.AssignedCaseID)
}

func TestRunningCaseWithoutHandleFails(t *testing.T) {
	f := newFixture(t, &fakeClient{status: hpc.StatusRunning}, time.Hour)
	c := f.seedRunning(t, "")
	ctx := context.Background()

	require.NoError(t, f.proto.Process(ctx))

	stored, err := f.store.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusFailed, stored.Status)
	require.Equal(t, models.ResourceStatusAvailable, f.resource(t).Status)
	require.Zero(t, f.client.statusCalls)
}

func TestReconcileQuarantinedReleasesOnConfirmedKill(t *testing.T) {
	f := newFixture(t, &fakeClient{killResult: true}, time.Hour)
	c := f.seedRunning(t, "42")
	ctx := context.Background()

	require.NoError(t, f.ledger.Quarantine(ctx, c.ID))
	require.NoError(t, f.store.MarkTerminal(ctx, c.ID, models.CaseStatusFailed))

	require.NoError(t, f.proto.ReconcileQuarantined(ctx))

	resource := f.resource(t)
	require.Equal(t, models.ResourceStatusAvailable, resource.Status)
	require.Nil(t, resource.AssignedCaseID)
	require.Equal(t, 1, f.client.killCalls)
}

func TestReconcileQuarantinedKeepsResourceUntilKillConfirmed(t *testing.T) {
	f := newFixture(t, &fakeClient{killResult: false}, time.Hour)
	c := f.seedRunning(t, "42")
	ctx := context.Background()

	require.NoError(t, f.ledger.Quarantine(ctx, c.ID))
	require.NoError(t, f.store.MarkTerminal(ctx, c.ID, models.CaseStatusFailed))

	require.NoError(t, f.proto.ReconcileQuarantined(ctx))
	require.Equal(t, models.ResourceStatusQuarantined, f.resource(t).Status)

	// A later pass with a reachable queue finally frees it.
	f.client.killResult = true
	require.NoError(t, f.proto.ReconcileQuarantined(ctx))
	require.Equal(t, models.ResourceStatusAvailable, f.resource(t).Status)
}
