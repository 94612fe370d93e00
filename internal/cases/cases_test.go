package cases

import (
	"context"
	"testing"
	"time"

	"github.com/caseway/caseway/internal/models"
	"github.com/caseway/caseway/internal/testutil"
	"github.com/caseway/caseway/pkg/jsonmap"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()

	db := testutil.OpenTestDB(t)
	t.Cleanup(func() {
		testutil.CloseDB(db)
	})

	return New(db)
}

func TestCreateStartsSubmitted(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	meta := jsonmap.FromStringMap(map[string]string{"files": "3"})
	c, err := store.Create(ctx, "new_cases/c1", meta)
	require.NoError(t, err)
	require.NotZero(t, c.ID)
	require.Equal(t, models.CaseStatusSubmitted, c.Status)
	require.Equal(t, 0, c.Progress)
	require.Empty(t, c.RemoteJobID)
	require.False(t, c.StatusChangedAt.IsZero())
}

func TestCreateIsNoOpForKnownPath(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "new_cases/c1", nil)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, first.ID, models.CaseStatusRunning))

	again, err := store.Create(ctx, "new_cases/c1", nil)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	stored, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusRunning, stored.Status)
}

func TestGetByStatusIsOldestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, path := range []string{"new_cases/a", "new_cases/b", "new_cases/c"} {
		_, err := store.Create(ctx, path, nil)
		require.NoError(t, err)
	}

	pending, err := store.GetByStatus(ctx, models.CaseStatusSubmitted)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.Equal(t, "new_cases/a", pending[0].SourcePath)
	require.Equal(t, "new_cases/c", pending[2].SourcePath)
}

func TestSetStatusBumpsStatusChangedAt(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	c, err := store.Create(ctx, "new_cases/c1", nil)
	require.NoError(t, err)
	before := c.StatusChangedAt

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.SetStatus(ctx, c.ID, models.CaseStatusSubmitting))

	stored, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusSubmitting, stored.Status)
	require.True(t, stored.StatusChangedAt.After(before))
}

func TestRemoteLinkAndResource(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	c, err := store.Create(ctx, "new_cases/c1", nil)
	require.NoError(t, err)

	require.NoError(t, store.SetResource(ctx, c.ID, "gpu0"))
	require.NoError(t, store.SetRemoteLink(ctx, c.ID, "42"))
	require.NoError(t, store.SetProgress(ctx, c.ID, 30))

	stored, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "gpu0", stored.ResourceName)
	require.Equal(t, "42", stored.RemoteJobID)
	require.Equal(t, 30, stored.Progress)
}

func TestMarkTerminalCompleted(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	c, err := store.Create(ctx, "new_cases/c1", nil)
	require.NoError(t, err)

	require.NoError(t, store.MarkTerminal(ctx, c.ID, models.CaseStatusCompleted))

	stored, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusCompleted, stored.Status)
	require.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.CompletedAt)
}

func TestMarkTerminalFailedKeepsProgress(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	c, err := store.Create(ctx, "new_cases/c1", nil)
	require.NoError(t, err)
	require.NoError(t, store.SetProgress(ctx, c.ID, 30))

	require.NoError(t, store.MarkTerminal(ctx, c.ID, models.CaseStatusFailed))

	stored, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusFailed, stored.Status)
	require.Equal(t, 30, stored.Progress)
	require.NotNil(t, stored.CompletedAt)
}

func TestMarkTerminalRejectsNonTerminalStatus(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	c, err := store.Create(ctx, "new_cases/c1", nil)
	require.NoError(t, err)

	require.Error(t, store.MarkTerminal(ctx, c.ID, models.CaseStatusRunning))
}

func TestListFiltersByStatus(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	a, err := store.Create(ctx, "new_cases/a", nil)
	require.NoError(t, err)
	_, err = store.Create(ctx, "new_cases/b", nil)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, a.ID, models.CaseStatusRunning))

	running, err := store.List(ctx, ListRequest{Status: "running"})
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, a.ID, running[0].ID)

	all, err := store.List(ctx, ListRequest{Limit: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestCountByStatus(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	a, err := store.Create(ctx, "new_cases/a", nil)
	require.NoError(t, err)
	_, err = store.Create(ctx, "new_cases/b", nil)
	require.NoError(t, err)
	require.NoError(t, store.MarkTerminal(ctx, a.ID, models.CaseStatusCompleted))

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[models.CaseStatusSubmitted])
	require.Equal(t, int64(1), counts[models.CaseStatusCompleted])
}
