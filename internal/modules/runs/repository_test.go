package runs

import (
	"testing"
	"time"

	testingpkg "github.com/aristath/greenfolio/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "runs")
	t.Cleanup(cleanup)
	return NewRepository(db.Conn(), zerolog.Nop())
}

type payload struct {
	Weights map[string]float64 `msgpack:"weights"`
	Note    string             `msgpack:"note"`
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := setupRepo(t)

	id, err := repo.Create(KindAllocate, "optimal", 3, "esg 0.86", payload{
		Weights: map[string]float64{"A": 0.2, "B": 0.8},
		Note:    "reference",
	})
	require.NoError(t, err)
	assert.Len(t, id, 36)

	run, err := repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, KindAllocate, run.Kind)
	assert.Equal(t, "optimal", run.Status)
	assert.Equal(t, 3, run.AssetCount)
	assert.Equal(t, "esg 0.86", run.Summary)
	assert.WithinDuration(t, time.Now(), run.CreatedAt, 5*time.Second)

	var got payload
	require.NoError(t, run.Decode(&got))
	assert.Equal(t, 0.8, got.Weights["B"])
	assert.Equal(t, "reference", got.Note)

	_, err = repo.GetByID("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_ListNewestFirst(t *testing.T) {
	repo := setupRepo(t)

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, err := repo.Create(KindAllocate, "optimal", 3, "", nil)
	require.NoError(t, err)
	second, err := repo.Create(KindFrontier, "completed", 3, "", nil)
	require.NoError(t, err)
	third, err := repo.Create(KindAllocate, "infeasible", 3, "", nil)
	require.NoError(t, err)

	all, err := repo.List("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{third, second, first}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Nil(t, all[0].Payload, "listing skips payloads")

	allocs, err := repo.List(KindAllocate, 1)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, third, allocs[0].ID)

	n, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRepository_DeleteOlderThan(t *testing.T) {
	repo := setupRepo(t)

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return old }
	_, err := repo.Create(KindSweep, "completed", 2, "", nil)
	require.NoError(t, err)

	repo.now = time.Now
	keep, err := repo.Create(KindSweep, "completed", 2, "", nil)
	require.NoError(t, err)

	deleted, err := repo.DeleteOlderThan(time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := repo.List("", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, keep, remaining[0].ID)
}
