package progressstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type memCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	sets   int
	getErr error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	v, ok := c.data[key]
	if !ok {
		return nil, progress.ErrCacheMiss
	}
	return append([]byte(nil), v...), nil
}

func (c *memCache) Set(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *memCache) Keys(prefix string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (c *memCache) Delete(key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	delete(c.data, key)
	return ok, nil
}

func (c *memCache) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

type fakeRemote struct {
	mu     sync.Mutex
	snap   *progress.Snapshot
	getErr error
	putErr error
	puts   []progress.Snapshot

	// release, when set, blocks Get until closed.
	release chan struct{}
}

func (r *fakeRemote) Get(ctx context.Context, _ string) (*progress.Snapshot, error) {
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap, r.getErr
}

func (r *fakeRemote) Put(_ context.Context, _ string, snap progress.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puts = append(r.puts, snap)
	return r.putErr
}

func (r *fakeRemote) putCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.puts)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T, local progress.LocalCache, remote progress.RemoteStore, opts Options) *Store {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	s := New(local, remote, logger.Nop(), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Flush(ctx)
	})
	return s
}

func flush(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCAL ONLY
// ══════════════════════════════════════════════════════════════════════════════

func TestStore_LocalMissReturnsFreshRecord(t *testing.T) {
	s := newStore(t, newMemCache(), nil, Options{})

	rec := s.Local("intro")

	assert.Equal(t, progress.NewRecord("intro"), rec)
}

func TestStore_KeyIsNamespaced(t *testing.T) {
	lessons := newStore(t, newMemCache(), nil, Options{Namespace: shared.NamespaceLessons})
	library := newStore(t, newMemCache(), nil, Options{Namespace: shared.NamespaceLibrary})

	assert.Equal(t, "lessons:progress:intro", lessons.Key("intro"))
	assert.Equal(t, "library:progress:intro", library.Key("intro"))
}

func TestStore_NamespacesDoNotShareRecords(t *testing.T) {
	cache := newMemCache()
	lessons := newStore(t, cache, nil, Options{Namespace: shared.NamespaceLessons})
	library := newStore(t, cache, nil, Options{Namespace: shared.NamespaceLibrary})

	lessons.RecordSectionComplete(context.Background(), "intro", 3)

	assert.Equal(t, []int{3}, lessons.Local("intro").CompletedSections)
	assert.Empty(t, library.Local("intro").CompletedSections)
}

func TestStore_CorruptLocalRecordStartsFresh(t *testing.T) {
	cache := newMemCache()
	s := newStore(t, cache, nil, Options{})
	require.NoError(t, cache.Set(s.Key("intro"), []byte("{not json")))

	assert.Equal(t, progress.NewRecord("intro"), s.Local("intro"))
}

func TestStore_LocalReadErrorStartsFresh(t *testing.T) {
	cache := newMemCache()
	cache.getErr = errors.New("disk gone")
	s := newStore(t, cache, nil, Options{})

	assert.Equal(t, progress.NewRecord("intro"), s.Local("intro"))
}

func TestStore_MutationsPersistLocally(t *testing.T) {
	cache := newMemCache()
	s := newStore(t, cache, nil, Options{})
	ctx := context.Background()

	s.RecordStart(ctx, "intro")
	s.RecordStepAdvance(ctx, "intro", 2)
	s.RecordSectionComplete(ctx, "intro", 4)
	s.RecordSectionComplete(ctx, "intro", 1)

	raw, err := cache.Get("lessons:progress:intro")
	require.NoError(t, err)

	var stored progress.Record
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.True(t, stored.Started)
	assert.Equal(t, 2, stored.CurrentStep)
	assert.Equal(t, []int{0, 1, 2}, stored.UnlockedSteps)
	assert.Equal(t, []int{1, 4}, stored.CompletedSections)
	assert.Equal(t, fixedNow, stored.LastUpdated)
}

func TestStore_RecordStartOnlyOnce(t *testing.T) {
	cache := newMemCache()
	s := newStore(t, cache, nil, Options{})

	s.RecordStart(context.Background(), "intro")
	s.RecordStart(context.Background(), "intro")

	assert.Equal(t, 1, cache.setCount())
}

func TestStore_SectionCompleteIsIdempotent(t *testing.T) {
	cache := newMemCache()
	remote := &fakeRemote{}
	s := newStore(t, cache, remote, Options{})
	ctx := context.Background()

	first := s.RecordSectionComplete(ctx, "intro", 2)
	second := s.RecordSectionComplete(ctx, "intro", 2)
	flush(t, s)

	assert.Equal(t, first.CompletedSections, second.CompletedSections)
	assert.Equal(t, 1, cache.setCount())
	assert.Equal(t, 1, remote.putCount())
}

func TestStore_RecordJump(t *testing.T) {
	cache := newMemCache()
	s := newStore(t, cache, nil, Options{})
	ctx := context.Background()
	s.RecordStepAdvance(ctx, "intro", 2)
	writes := cache.setCount()

	_, ok := s.RecordJump(ctx, "intro", 5)
	assert.False(t, ok, "locked step")

	_, ok = s.RecordJump(ctx, "intro", 2)
	assert.False(t, ok, "already current")
	assert.Equal(t, writes, cache.setCount(), "rejected jumps must not write")

	rec, ok := s.RecordJump(ctx, "intro", 0)
	assert.True(t, ok)
	assert.Equal(t, 0, rec.CurrentStep)
	assert.Equal(t, []int{0, 1, 2}, rec.UnlockedSteps, "jumping back keeps steps unlocked")
}

func TestStore_PercentAndComplete(t *testing.T) {
	s := newStore(t, newMemCache(), nil, Options{})
	ctx := context.Background()

	for _, i := range []int{0, 1, 2} {
		s.RecordSectionComplete(ctx, "intro", i)
	}

	assert.Equal(t, 43, s.PercentComplete("intro", 7))
	assert.False(t, s.IsComplete("intro", 7))
	assert.Equal(t, 100, s.PercentComplete("intro", 3))
	assert.True(t, s.IsComplete("intro", 3))
	assert.Equal(t, 0, s.PercentComplete("intro", 0))
	assert.False(t, s.IsComplete("intro", 0))
}

// ══════════════════════════════════════════════════════════════════════════════
// OPTIMISTIC WRITES
// ══════════════════════════════════════════════════════════════════════════════

func TestStore_MutationVisibleBeforePushCompletes(t *testing.T) {
	cache := newMemCache()
	remote := &fakeRemote{}
	s := newStore(t, cache, remote, Options{})

	rec := s.RecordStepAdvance(context.Background(), "intro", 1)

	assert.Equal(t, 1, rec.CurrentStep)
	assert.Equal(t, 1, s.Local("intro").CurrentStep)

	flush(t, s)
	require.Equal(t, 1, remote.putCount())
	assert.Equal(t, 1, remote.puts[0].CurrentStep)
	assert.Equal(t, []int{}, remote.puts[0].CompletedSections)
}

func TestStore_PushFailureKeepsLocalAndLogs(t *testing.T) {
	out := &syncBuffer{}
	log := logger.New(logger.Options{Output: out, Level: logger.LevelDebug, Format: "json"})
	remote := &fakeRemote{putErr: shared.ErrRemoteUnavailable}
	s := New(newMemCache(), remote, log, Options{Now: func() time.Time { return fixedNow }})

	s.RecordSectionComplete(context.Background(), "intro", 0)
	flush(t, s)

	assert.Equal(t, []int{0}, s.Local("intro").CompletedSections)
	assert.Contains(t, out.String(), "remote progress push failed")
	assert.Contains(t, out.String(), `"content_id":"intro"`)
	assert.Equal(t, 1, remote.putCount(), "no retry")
}

func TestStore_PushSurvivesCallerCancellation(t *testing.T) {
	remote := &fakeRemote{}
	s := newStore(t, newMemCache(), remote, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	s.RecordStepAdvance(ctx, "intro", 1)
	cancel()
	flush(t, s)

	assert.Equal(t, 1, remote.putCount())
}

// ══════════════════════════════════════════════════════════════════════════════
// MERGE ON READ
// ══════════════════════════════════════════════════════════════════════════════

func TestStore_LoadReplacesWithValidRemote(t *testing.T) {
	cache := newMemCache()
	remote := &fakeRemote{}
	s := newStore(t, cache, remote, Options{})
	ctx := context.Background()

	s.RecordSectionComplete(ctx, "intro", 0)
	s.RecordSectionComplete(ctx, "intro", 1)
	flush(t, s)

	remote.snap = &progress.Snapshot{
		CurrentStep:       3,
		CompletedSections: []int{5},
		LastUpdated:       fixedNow.Add(-time.Hour),
		Started:           true,
	}

	rec := s.Load(ctx, "intro")

	assert.Equal(t, 3, rec.CurrentStep)
	assert.Equal(t, []int{0, 1, 2, 3}, rec.UnlockedSteps)
	assert.Equal(t, []int{5}, rec.CompletedSections, "remote replaces wholesale, no union")
	assert.Equal(t, rec, s.Local("intro"), "replacement is written through to the local cache")
}

func TestStore_LoadKeepsLocalOnInvalidRemote(t *testing.T) {
	tests := []struct {
		name   string
		remote *fakeRemote
	}{
		{name: "not found", remote: &fakeRemote{}},
		{name: "missing completed sections", remote: &fakeRemote{snap: &progress.Snapshot{CurrentStep: 4}}},
		{name: "unreachable", remote: &fakeRemote{getErr: shared.ErrRemoteUnavailable}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t, newMemCache(), tt.remote, Options{})
			ctx := context.Background()
			s.RecordStepAdvance(ctx, "intro", 1)
			flush(t, s)

			rec := s.Load(ctx, "intro")
			flush(t, s)

			assert.Equal(t, 1, rec.CurrentStep)
			assert.Equal(t, 1, s.Local("intro").CurrentStep)
		})
	}
}

func TestStore_LoadReturnsLocalWhenRemoteIsSlow(t *testing.T) {
	release := make(chan struct{})
	remote := &fakeRemote{
		release: release,
		snap:    &progress.Snapshot{CurrentStep: 2, CompletedSections: []int{0, 1}},
	}
	s := newStore(t, newMemCache(), remote, Options{LoadWait: 20 * time.Millisecond})

	rec := s.Load(context.Background(), "intro")
	assert.Equal(t, 0, rec.CurrentStep, "served local state")

	// The late remote response still lands in the local cache.
	close(release)
	flush(t, s)
	assert.Equal(t, 2, s.Local("intro").CurrentStep)
	assert.Equal(t, []int{0, 1}, s.Local("intro").CompletedSections)
}

func TestStore_LoadHonoursContext(t *testing.T) {
	release := make(chan struct{})
	remote := &fakeRemote{release: release}
	s := newStore(t, newMemCache(), remote, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	rec := s.Load(ctx, "intro")
	close(release)

	assert.Equal(t, progress.NewRecord("intro"), rec)
}

func TestStore_RemoteTimeoutBoundsLegs(t *testing.T) {
	remote := &blockingRemote{}
	s := newStore(t, newMemCache(), remote, Options{RemoteTimeout: 20 * time.Millisecond, LoadWait: time.Second})

	start := time.Now()
	rec := s.Load(context.Background(), "intro")

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, progress.NewRecord("intro"), rec)
}

type blockingRemote struct{}

func (blockingRemote) Get(ctx context.Context, _ string) (*progress.Snapshot, error) {
	<-ctx.Done()
	return nil, shared.ErrRemoteTimeout
}

func (blockingRemote) Put(ctx context.Context, _ string, _ progress.Snapshot) error {
	<-ctx.Done()
	return shared.ErrRemoteTimeout
}

func TestStore_FlushHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	s := New(newMemCache(), &fakeRemote{release: release}, logger.Nop(), Options{LoadWait: time.Millisecond})

	s.Load(context.Background(), "intro")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Flush(ctx), context.DeadlineExceeded)
}

type echoRemote struct {
	mu   sync.Mutex
	last map[string]progress.Snapshot
}

func (r *echoRemote) Get(_ context.Context, id string) (*progress.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.last[id]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (r *echoRemote) Put(_ context.Context, id string, snap progress.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		r.last = make(map[string]progress.Snapshot)
	}
	r.last[id] = snap
	return nil
}

func TestStore_AdvanceThenReloadRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		remote progress.RemoteStore
	}{
		{name: "remote echoes writes", remote: &echoRemote{}},
		{name: "remote unavailable", remote: &fakeRemote{getErr: shared.ErrRemoteUnavailable, putErr: shared.ErrRemoteUnavailable}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newMemCache()
			ctx := context.Background()

			before := newStore(t, cache, tt.remote, Options{})
			before.RecordStepAdvance(ctx, "intro", 4)
			flush(t, before)

			// A fresh store over the same cache simulates a reload.
			after := newStore(t, cache, tt.remote, Options{})
			rec := after.Load(ctx, "intro")

			assert.Equal(t, 4, rec.CurrentStep)
			assert.Equal(t, []int{0, 1, 2, 3, 4}, rec.UnlockedSteps)
		})
	}
}

func TestStore_PercentOfEightSections(t *testing.T) {
	s := newStore(t, newMemCache(), nil, Options{})
	for i := 0; i < 4; i++ {
		s.RecordSectionComplete(context.Background(), "intro", i)
	}

	assert.Equal(t, 50, s.PercentComplete("intro", 8))
}

func TestRegistry(t *testing.T) {
	cache := newMemCache()
	r := NewRegistry(cache, nil, logger.Nop(), Options{}, shared.NamespaceLessons, shared.NamespaceLessons, shared.Namespace("bogus"))

	assert.Equal(t, []shared.Namespace{shared.NamespaceLessons}, r.Namespaces())

	s, err := r.For(shared.NamespaceLessons)
	require.NoError(t, err)
	assert.Equal(t, shared.NamespaceLessons, s.Namespace())

	_, err = r.For(shared.NamespaceLibrary)
	assert.ErrorIs(t, err, shared.ErrInvalidNamespace)

	assert.NoError(t, r.Flush(context.Background()))
}

func TestStore_ZeroLoadWaitIsBounded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	s := New(newMemCache(), &fakeRemote{release: release}, logger.Nop(), Options{})
	require.Equal(t, DefaultLoadWait, s.loadWait)

	s.loadWait = 20 * time.Millisecond
	start := time.Now()
	rec := s.Load(context.Background(), "intro")

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, progress.NewRecord("intro"), rec)
}

func TestStore_FlushWithoutLegsReturnsImmediately(t *testing.T) {
	s := newStore(t, newMemCache(), &fakeRemote{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Flush(ctx))
}

func TestStore_FlushConcurrentWithMutations(t *testing.T) {
	remote := &fakeRemote{}
	s := newStore(t, newMemCache(), remote, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(step int) {
			defer wg.Done()
			s.RecordStepAdvance(context.Background(), "intro", step+1)
		}(i)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			assert.NoError(t, s.Flush(ctx))
		}()
	}
	wg.Wait()

	flush(t, s)
	assert.Equal(t, 8, remote.putCount())
	s.legsMu.Lock()
	defer s.legsMu.Unlock()
	assert.Zero(t, s.inFlight)
	assert.Nil(t, s.idle)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCAL RESET
// ══════════════════════════════════════════════════════════════════════════════

func TestStore_LocalContentIDsAndReset(t *testing.T) {
	cache := newMemCache()
	lessons := newStore(t, cache, nil, Options{Namespace: shared.NamespaceLessons})
	library := newStore(t, cache, nil, Options{Namespace: shared.NamespaceLibrary})
	ctx := context.Background()

	lessons.RecordStepAdvance(ctx, "pricing", 2)
	lessons.RecordStart(ctx, "budget")
	library.RecordStart(ctx, "chapter-one")

	ids, err := lessons.LocalContentIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"budget", "pricing"}, ids)

	existed, err := lessons.ResetLocal("pricing")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, progress.NewRecord("pricing"), lessons.Local("pricing"))

	existed, err = lessons.ResetLocal("pricing")
	require.NoError(t, err)
	assert.False(t, existed)

	ids, err = library.LocalContentIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"chapter-one"}, ids, "other namespaces are untouched")
}

// plainCache hides memCache's Keys and Delete.
type plainCache struct{ c *memCache }

func (p plainCache) Get(key string) ([]byte, error) { return p.c.Get(key) }
func (p plainCache) Set(key string, value []byte) error { return p.c.Set(key, value) }

func TestStore_ResetNeedsResettableCache(t *testing.T) {
	s := newStore(t, plainCache{newMemCache()}, nil, Options{})
	_, err := s.LocalContentIDs()
	assert.ErrorIs(t, err, ErrNotResettable)
	_, err = s.ResetLocal("pricing")
	assert.ErrorIs(t, err, ErrNotResettable)
}
