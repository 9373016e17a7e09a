package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/pkg/circuitbreaker"
)

// db is the part of *Connection the repository uses.
type db interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	WithTx(ctx context.Context, fn func(Querier) error) error
}

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	db           db
	breaker      *circuitbreaker.CircuitBreaker
	queryTimeout time.Duration
}

var _ progress.Repository = (*ProgressRepository)(nil)

// NewProgressRepository creates a new ProgressRepository. breaker may be nil.
func NewProgressRepository(conn *Connection, breaker *circuitbreaker.CircuitBreaker, queryTimeout time.Duration) *ProgressRepository {
	return newProgressRepository(conn, breaker, queryTimeout)
}

func newProgressRepository(d db, breaker *circuitbreaker.CircuitBreaker, queryTimeout time.Duration) *ProgressRepository {
	return &ProgressRepository{db: d, breaker: breaker, queryTimeout: queryTimeout}
}

// Find returns the stored snapshot or shared.ErrNotFound.
func (r *ProgressRepository) Find(ctx context.Context, contentID string) (*progress.Snapshot, error) {
	query := `
		SELECT current_step, completed_sections, started, last_updated, unlocked_steps
		FROM progress_records
		WHERE content_id = $1
	`

	var (
		snap      progress.Snapshot
		step      int32
		completed []int32
		unlocked  []int32
	)
	err := r.run(ctx, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query, contentID).Scan(
			&step,
			&completed,
			&snap.Started,
			&snap.LastUpdated,
			&unlocked,
		)
	})
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.WrapError("progress", "Find", shared.ErrNotFound, "no record for "+contentID, err)
		}
		return nil, fmt.Errorf("failed to get progress record: %w", err)
	}

	snap.CurrentStep = int(step)
	snap.CompletedSections = fromInt4(completed)
	if snap.CompletedSections == nil {
		snap.CompletedSections = []int{}
	}
	snap.UnlockedSteps = fromInt4(unlocked)
	snap.LastUpdated = snap.LastUpdated.UTC()
	return &snap, nil
}

// Replace upserts the whole record in one transaction: no field of the
// previous row survives. The last writer wins.
func (r *ProgressRepository) Replace(ctx context.Context, contentID string, snap progress.Snapshot) error {
	query := `
		INSERT INTO progress_records (content_id, current_step, completed_sections, started, last_updated, unlocked_steps)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (content_id) DO UPDATE SET
			current_step = EXCLUDED.current_step,
			completed_sections = EXCLUDED.completed_sections,
			started = EXCLUDED.started,
			last_updated = EXCLUDED.last_updated,
			unlocked_steps = EXCLUDED.unlocked_steps
	`

	completed := toInt4(snap.CompletedSections)
	if completed == nil {
		completed = []int32{}
	}
	lastUpdated := snap.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}

	err := r.run(ctx, func(ctx context.Context) error {
		return r.db.WithTx(ctx, func(tx Querier) error {
			_, err := tx.Exec(ctx, query,
				contentID,
				int32(snap.CurrentStep),
				completed,
				snap.Started,
				lastUpdated,
				toInt4(snap.UnlockedSteps),
			)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("failed to replace progress record: %w", err)
	}
	return nil
}

// run applies the query timeout and the breaker. "No rows" is not a failure.
func (r *ProgressRepository) run(ctx context.Context, fn func(context.Context) error) error {
	if r.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.queryTimeout)
		defer cancel()
	}
	if r.breaker == nil {
		return fn(ctx)
	}
	if err := r.breaker.Allow(); err != nil {
		return shared.WrapError("progress", "Query", shared.ErrServiceUnavailable, "database circuit open", err)
	}
	err := fn(ctx)
	if IsNoRows(err) {
		r.breaker.Done(nil)
	} else {
		r.breaker.Done(err)
	}
	return err
}

func toInt4(xs []int) []int32 {
	if xs == nil {
		return nil
	}
	out := make([]int32, len(xs))
	for i, x := range xs {
		out[i] = int32(x)
	}
	return out
}

func fromInt4(xs []int32) []int {
	if xs == nil {
		return nil
	}
	out := make([]int, len(xs))
	for i, x := range xs {
		out[i] = int(x)
	}
	return out
}
