// Package progressstore keeps reader progress in two places at once: a
// synchronous LocalCache that is always consulted first, and an optional
// RemoteStore that is authoritative when reachable.
//
// Every mutation is applied to the LocalCache before the call returns and is
// then pushed to the RemoteStore on a detached goroutine. Push failures are
// logged and counted; they never roll back local state and are never retried.
//
// Load reads local state and concurrently asks the RemoteStore. A
// structurally valid remote record replaces the local one wholesale, even
// when it lands after Load has already returned. A stale remote record can
// therefore undo progress made while the remote was unreachable.
package progressstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/metrics"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

const tracerName = "github.com/stepwise-hub/stepwise/internal/application/progressstore"

// Operation names used in logs and metrics.
const (
	OpStart           = "start"
	OpStepAdvance     = "step_advance"
	OpJump            = "jump"
	OpSectionComplete = "section_complete"
	OpRemoteReplace   = "remote_replace"
)

// Options configures a Store.
type Options struct {
	// Namespace separates lesson progress from library progress.
	Namespace shared.Namespace

	// LoadWait bounds how long Load waits for the remote leg. Zero means
	// DefaultLoadWait.
	LoadWait time.Duration

	// RemoteTimeout bounds each remote call. Zero means no timeout.
	RemoteTimeout time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultLoadWait bounds Load when Options.LoadWait is not set.
const DefaultLoadWait = 2 * time.Second

// Store is the progress store for one namespace.
type Store struct {
	ns     shared.Namespace
	local  progress.LocalCache
	remote progress.RemoteStore
	log    *logger.Logger
	tracer trace.Tracer

	now           func() time.Time
	loadWait      time.Duration
	remoteTimeout time.Duration

	// mu serialises read-modify-write cycles on the local cache.
	mu sync.Mutex
	// legsMu guards inFlight and idle. idle is closed when the last
	// detached remote leg finishes; nil while none is running.
	legsMu   sync.Mutex
	inFlight int
	idle     chan struct{}
}

// New creates a Store. remote may be nil, in which case only the local
// cache is used.
func New(local progress.LocalCache, remote progress.RemoteStore, log *logger.Logger, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Namespace == "" {
		opts.Namespace = shared.NamespaceLessons
	}
	if opts.LoadWait <= 0 {
		opts.LoadWait = DefaultLoadWait
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		ns:            opts.Namespace,
		local:         local,
		remote:        remote,
		log:           log.With(logger.Component("progress_store"), logger.Namespace(opts.Namespace.String())),
		tracer:        otel.Tracer(tracerName),
		now:           opts.Now,
		loadWait:      opts.LoadWait,
		remoteTimeout: opts.RemoteTimeout,
	}
}

// Namespace returns the store namespace.
func (s *Store) Namespace() shared.Namespace {
	return s.ns
}

// Key returns the local cache key for a content item.
func (s *Store) Key(contentID string) string {
	return s.keyPrefix() + contentID
}

func (s *Store) keyPrefix() string {
	return s.ns.String() + ":progress:"
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

// Local returns the locally cached record, or a fresh one if there is none.
// It never touches the network.
func (s *Store) Local(contentID string) progress.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(contentID)
}

type loadResult struct {
	rec      progress.Record
	replaced bool
}

// Load returns local state, replaced by the remote record if a valid one
// arrives before ctx is done and LoadWait elapses. The remote leg is not
// cancelled when Load returns early.
func (s *Store) Load(ctx context.Context, contentID string) progress.Record {
	ctx, span := s.tracer.Start(ctx, "progressstore.Load", trace.WithAttributes(
		attribute.String("content.id", contentID),
		attribute.String("progress.namespace", s.ns.String()),
	))
	defer span.End()

	local := s.Local(contentID)
	if s.remote == nil {
		span.SetAttributes(attribute.Bool("progress.remote", false))
		return local
	}

	results := make(chan loadResult, 1)
	s.detach(ctx, func(bg context.Context) {
		rec, replaced := s.pull(bg, contentID)
		results <- loadResult{rec: rec, replaced: replaced}
	})

	timer := time.NewTimer(s.loadWait)
	defer timer.Stop()

	select {
	case res := <-results:
		span.SetAttributes(attribute.Bool("progress.replaced", res.replaced))
		if res.replaced {
			return res.rec
		}
		return local
	case <-ctx.Done():
		span.SetAttributes(attribute.Bool("progress.remote_pending", true))
	case <-timer.C:
		span.SetAttributes(attribute.Bool("progress.remote_pending", true))
	}
	s.log.Debug("remote progress still pending, serving local state", logger.ContentID(contentID))
	return local
}

// pull fetches the remote record and, if valid, overwrites the local one.
func (s *Store) pull(ctx context.Context, contentID string) (progress.Record, bool) {
	ctx, span := s.tracer.Start(ctx, "progressstore.pull")
	defer span.End()

	snap, err := s.remote.Get(ctx, contentID)
	if err != nil {
		metrics.RemoteLoads.WithLabelValues(metrics.ResultUnavailable).Inc()
		span.SetStatus(codes.Error, err.Error())
		s.log.Debug("remote progress unavailable, keeping local",
			logger.ContentID(contentID), logger.Err(err))
		return progress.Record{}, false
	}
	if !snap.Valid() {
		metrics.RemoteLoads.WithLabelValues(metrics.ResultKeptLocal).Inc()
		return progress.Record{}, false
	}

	rec := snap.ToRecord(contentID)

	s.mu.Lock()
	s.writeLocked(rec, OpRemoteReplace)
	s.mu.Unlock()

	metrics.RemoteLoads.WithLabelValues(metrics.ResultReplaced).Inc()
	return rec, true
}

// ══════════════════════════════════════════════════════════════════════════════
// MUTATIONS
// ══════════════════════════════════════════════════════════════════════════════

// RecordStart marks the item as started on first view.
func (s *Store) RecordStart(ctx context.Context, contentID string) progress.Record {
	return s.mutate(ctx, contentID, OpStart, func(r *progress.Record, now time.Time) bool {
		return r.MarkStarted(now)
	})
}

// RecordStepAdvance makes newStep current and unlocks every step up to it.
func (s *Store) RecordStepAdvance(ctx context.Context, contentID string, newStep int) progress.Record {
	return s.mutate(ctx, contentID, OpStepAdvance, func(r *progress.Record, now time.Time) bool {
		r.AdvanceTo(newStep, now)
		return true
	})
}

// RecordJump moves to an already unlocked step. Returns false, with no
// write, if the step is locked or already current.
func (s *Store) RecordJump(ctx context.Context, contentID string, step int) (progress.Record, bool) {
	changed := false
	rec := s.mutate(ctx, contentID, OpJump, func(r *progress.Record, now time.Time) bool {
		changed = r.JumpTo(step, now)
		return changed
	})
	return rec, changed
}

// RecordSectionComplete adds a section to the completed set. Idempotent.
func (s *Store) RecordSectionComplete(ctx context.Context, contentID string, index int) progress.Record {
	return s.mutate(ctx, contentID, OpSectionComplete, func(r *progress.Record, now time.Time) bool {
		return r.CompleteSection(index, now)
	})
}

// mutate applies fn to the local record and, if it reports a change,
// writes it locally and pushes it remotely.
func (s *Store) mutate(ctx context.Context, contentID, op string, fn func(*progress.Record, time.Time) bool) progress.Record {
	s.mu.Lock()
	rec := s.readLocked(contentID)
	changed := fn(&rec, s.now().UTC())
	if changed {
		s.writeLocked(rec, op)
	}
	s.mu.Unlock()

	if !changed {
		return rec
	}

	metrics.StoreMutations.WithLabelValues(op, s.ns.String()).Inc()
	s.push(ctx, contentID, op, rec.Clone())
	return rec
}

// push sends the whole record to the remote store without waiting.
func (s *Store) push(ctx context.Context, contentID, op string, rec progress.Record) {
	if s.remote == nil {
		return
	}
	s.detach(ctx, func(bg context.Context) {
		bg, span := s.tracer.Start(bg, "progressstore.push", trace.WithAttributes(
			attribute.String("content.id", contentID),
			attribute.String("progress.operation", op),
		))
		defer span.End()

		if err := s.remote.Put(bg, contentID, rec.Snapshot()); err != nil {
			metrics.RemotePushes.WithLabelValues(metrics.ResultError).Inc()
			span.SetStatus(codes.Error, err.Error())
			s.log.Warn("remote progress push failed, local state kept",
				logger.ContentID(contentID), logger.Operation(op), logger.Err(err))
			return
		}
		metrics.RemotePushes.WithLabelValues(metrics.ResultOK).Inc()
	})
}

// detach runs fn on its own goroutine with a context that keeps ctx's
// values (trace, logger) but not its cancellation.
func (s *Store) detach(ctx context.Context, fn func(context.Context)) {
	s.legsMu.Lock()
	s.inFlight++
	if s.idle == nil {
		s.idle = make(chan struct{})
	}
	s.legsMu.Unlock()
	metrics.RemoteLegsInFlight.Inc()

	go func() {
		defer s.legDone()
		defer metrics.RemoteLegsInFlight.Dec()

		bg := context.WithoutCancel(ctx)
		if s.remoteTimeout > 0 {
			var cancel context.CancelFunc
			bg, cancel = context.WithTimeout(bg, s.remoteTimeout)
			defer cancel()
		}
		fn(bg)
	}()
}

func (s *Store) legDone() {
	s.legsMu.Lock()
	defer s.legsMu.Unlock()
	s.inFlight--
	if s.inFlight == 0 {
		close(s.idle)
		s.idle = nil
	}
}

// Flush waits until no detached remote operation is running or ctx is
// done. Legs started while Flush waits are waited for too.
func (s *Store) Flush(ctx context.Context) error {
	s.legsMu.Lock()
	idle := s.idle
	s.legsMu.Unlock()
	if idle == nil {
		return nil
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DERIVED QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// PercentComplete returns the local completion percentage.
func (s *Store) PercentComplete(contentID string, totalSections int) int {
	return s.Local(contentID).PercentComplete(totalSections)
}

// IsComplete reports whether every section is completed locally.
func (s *Store) IsComplete(contentID string, totalSections int) bool {
	return s.Local(contentID).IsComplete(totalSections)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCAL CACHE ACCESS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) readLocked(contentID string) progress.Record {
	data, err := s.local.Get(s.Key(contentID))
	switch {
	case errors.Is(err, progress.ErrCacheMiss):
		return progress.NewRecord(contentID)
	case err != nil:
		metrics.LocalCacheErrors.WithLabelValues("get").Inc()
		s.log.Error("local progress read failed, starting fresh",
			logger.ContentID(contentID), logger.Err(err))
		return progress.NewRecord(contentID)
	}

	var rec progress.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		metrics.LocalCacheErrors.WithLabelValues("decode").Inc()
		s.log.Warn("malformed local progress record, starting fresh",
			logger.ContentID(contentID),
			logger.Err(shared.WrapError("progress", "Decode", shared.ErrInvalidFormat, "local record", err)))
		return progress.NewRecord(contentID)
	}
	rec.ContentID = contentID
	rec.Normalize()
	return rec
}

func (s *Store) writeLocked(rec progress.Record, op string) {
	data, err := json.Marshal(rec)
	if err == nil {
		err = s.local.Set(s.Key(rec.ContentID), data)
	}
	if err != nil {
		metrics.LocalCacheErrors.WithLabelValues("set").Inc()
		s.log.Error("local progress write failed",
			logger.ContentID(rec.ContentID), logger.Operation(op), logger.Err(err))
	}
}
