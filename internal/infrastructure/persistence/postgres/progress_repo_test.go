package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/pkg/circuitbreaker"
)

func TestInt4Conversions(t *testing.T) {
	assert.Nil(t, toInt4(nil))
	assert.Nil(t, fromInt4(nil))
	assert.Equal(t, []int32{0, 3, 7}, toInt4([]int{0, 3, 7}))
	assert.Equal(t, []int{0, 3, 7}, fromInt4([]int32{0, 3, 7}))
	assert.Equal(t, []int32{}, toInt4([]int{}))
}

func TestGetMigrations(t *testing.T) {
	migs := GetMigrations()
	if assert.Len(t, migs, 2) {
		for i, m := range migs {
			assert.Equal(t, i+1, m.Version, "migrations are ordered and contiguous")
			assert.NotEmpty(t, m.UpSQL, m.Name)
			assert.NotEmpty(t, m.DownSQL, m.Name)
		}
	}
	assert.Contains(t, migs[0].UpSQL, "CREATE TABLE IF NOT EXISTS progress_records")
	assert.Contains(t, migs[1].UpSQL, "unlocked_steps")
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

type storedRow struct {
	step      int32
	completed []int32
	started   bool
	updated   time.Time
	unlocked  []int32
}

// fakeDB keeps rows by content ID. Writes become visible on commit only.
type fakeDB struct {
	rows    map[string]storedRow
	err     error
	txCount int
	execErr error
}

func newFakeDB() *fakeDB { return &fakeDB{rows: map[string]storedRow{}} }

func (d *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	if d.err != nil {
		return errRow{d.err}
	}
	row, ok := d.rows[args[0].(string)]
	if !ok {
		return errRow{pgx.ErrNoRows}
	}
	return fakeRow{row}
}

func (d *fakeDB) WithTx(_ context.Context, fn func(Querier) error) error {
	d.txCount++
	tx := &fakeTx{pending: map[string]storedRow{}, err: d.execErr}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.pending {
		d.rows[k] = v
	}
	return nil
}

type fakeTx struct {
	pending map[string]storedRow
	err     error
}

func (t *fakeTx) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	if t.err != nil {
		return pgconn.CommandTag{}, t.err
	}
	t.pending[args[0].(string)] = storedRow{
		step:      args[1].(int32),
		completed: args[2].([]int32),
		started:   args[3].(bool),
		updated:   args[4].(time.Time),
		unlocked:  args[5].([]int32),
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{errors.New("unexpected query in transaction")}
}

type fakeRow struct{ row storedRow }

func (r fakeRow) Scan(dest ...any) error {
	*dest[0].(*int32) = r.row.step
	*dest[1].(*[]int32) = r.row.completed
	*dest[2].(*bool) = r.row.started
	*dest[3].(*time.Time) = r.row.updated
	*dest[4].(*[]int32) = r.row.unlocked
	return nil
}

func TestProgressRepository_ReplaceOverwritesWholeRecord(t *testing.T) {
	d := newFakeDB()
	repo := newProgressRepository(d, nil, time.Second)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Replace(ctx, "intro", progress.Snapshot{
		CurrentStep:       4,
		CompletedSections: []int{0, 1, 2},
		Started:           true,
		LastUpdated:       at,
		UnlockedSteps:     []int{0, 1, 2, 3, 4},
	}))
	require.NoError(t, repo.Replace(ctx, "intro", progress.Snapshot{
		CurrentStep:       1,
		CompletedSections: []int{},
		LastUpdated:       at.Add(time.Minute),
	}))
	assert.Equal(t, 2, d.txCount, "each replace runs in its own transaction")

	snap, err := repo.Find(ctx, "intro")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.CurrentStep)
	assert.Equal(t, []int{}, snap.CompletedSections, "sections are not merged")
	assert.False(t, snap.Started)
	assert.Nil(t, snap.UnlockedSteps)
	assert.Equal(t, at.Add(time.Minute), snap.LastUpdated)
}

func TestProgressRepository_FindMissing(t *testing.T) {
	repo := newProgressRepository(newFakeDB(), circuitbreaker.DatabaseBreaker(nil), time.Second)

	_, err := repo.Find(context.Background(), "absent")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.True(t, shared.IsNotFound(err))
}

func TestProgressRepository_NullUnlockedRoundTrip(t *testing.T) {
	d := newFakeDB()
	repo := newProgressRepository(d, nil, 0)
	ctx := context.Background()

	require.NoError(t, repo.Replace(ctx, "ch-1", progress.Snapshot{CurrentStep: 2, CompletedSections: nil}))
	assert.Nil(t, d.rows["ch-1"].unlocked, "absent unlocked steps are stored as NULL")
	assert.Equal(t, []int32{}, d.rows["ch-1"].completed, "completed sections are never NULL")
	assert.False(t, d.rows["ch-1"].updated.IsZero(), "missing timestamp is filled in")

	snap, err := repo.Find(ctx, "ch-1")
	require.NoError(t, err)
	assert.Nil(t, snap.UnlockedSteps)
	assert.Equal(t, []int{}, snap.CompletedSections)
	assert.True(t, snap.Valid())
}

func TestProgressRepository_FailedTransactionLeavesRowUntouched(t *testing.T) {
	d := newFakeDB()
	repo := newProgressRepository(d, nil, 0)
	ctx := context.Background()

	require.NoError(t, repo.Replace(ctx, "intro", progress.Snapshot{CurrentStep: 3, CompletedSections: []int{0}}))
	d.execErr = errors.New("disk full")
	err := repo.Replace(ctx, "intro", progress.Snapshot{CurrentStep: 5, CompletedSections: []int{0, 1}})
	require.Error(t, err)

	assert.Equal(t, int32(3), d.rows["intro"].step)
}

func TestProgressRepository_BreakerOpensOnRepeatedFailures(t *testing.T) {
	d := newFakeDB()
	d.err = errors.New("connection refused")
	breaker := circuitbreaker.DatabaseBreaker(nil)
	repo := newProgressRepository(d, breaker, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.Find(ctx, "intro")
		require.Error(t, err)
		assert.NotErrorIs(t, err, shared.ErrServiceUnavailable)
	}
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	d.err = nil
	_, err := repo.Find(ctx, "intro")
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	err = repo.Replace(ctx, "intro", progress.Snapshot{CompletedSections: []int{}})
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.Empty(t, d.rows, "no write reaches the database while the breaker is open")
}

func TestProgressRepository_MissingRowIsNotABreakerFailure(t *testing.T) {
	breaker := circuitbreaker.DatabaseBreaker(nil)
	repo := newProgressRepository(newFakeDB(), breaker, 0)

	for i := 0; i < 5; i++ {
		_, err := repo.Find(context.Background(), "absent")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
}
