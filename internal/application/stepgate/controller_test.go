package stepgate

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepwise-hub/stepwise/internal/application/progressstore"
	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

type countingCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func (c *countingCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, progress.ErrCacheMiss
	}
	return v, nil
}

func (c *countingCache) Set(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.sets++
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *countingCache) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

func newStore(cache progress.LocalCache) *progressstore.Store {
	return progressstore.New(cache, nil, logger.Nop(), progressstore.Options{
		Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
}

func TestOpen_InitialState(t *testing.T) {
	c := Open(context.Background(), newStore(&countingCache{}), "intro", 4)

	assert.Equal(t, 0, c.CurrentStep())
	assert.Equal(t, []State{StateCurrent, StateLocked, StateLocked, StateLocked}, c.States())
	assert.True(t, c.Record().Started)
}

func TestOpen_ResumesPersistedProgress(t *testing.T) {
	cache := &countingCache{}
	store := newStore(cache)
	first := Open(context.Background(), store, "intro", 4)
	first.Advance(context.Background())
	first.Advance(context.Background())

	second := Open(context.Background(), store, "intro", 4)

	assert.Equal(t, 2, second.CurrentStep())
	assert.Equal(t, []State{StateUnlocked, StateUnlocked, StateCurrent, StateLocked}, second.States())
}

func TestController_ThreeAdvancesOnFiveSteps(t *testing.T) {
	ctx := context.Background()
	c := Open(ctx, newStore(&countingCache{}), "intro", 5)

	for i := 0; i < 3; i++ {
		require.True(t, c.Advance(ctx))
	}

	rec := c.Record()
	assert.Equal(t, []int{0, 1, 2, 3}, rec.UnlockedSteps)
	assert.Equal(t, 3, rec.CurrentStep)
	assert.Equal(t, []State{StateUnlocked, StateUnlocked, StateUnlocked, StateCurrent, StateLocked}, c.States())
}

func TestController_AdvanceOnLastStepIsNoop(t *testing.T) {
	ctx := context.Background()
	cache := &countingCache{}
	c := Open(ctx, newStore(cache), "intro", 2)

	require.True(t, c.Advance(ctx))
	assert.True(t, c.IsLastStep())
	writes := cache.writes()

	assert.False(t, c.Advance(ctx))
	assert.Equal(t, 1, c.CurrentStep())
	assert.Equal(t, writes, cache.writes())
}

func TestController_SingleStepItem(t *testing.T) {
	ctx := context.Background()
	c := Open(ctx, newStore(&countingCache{}), "empty", 0)

	assert.Equal(t, 1, c.StepCount())
	assert.False(t, c.Advance(ctx))
	assert.Equal(t, []State{StateCurrent}, c.States())
}

func TestController_JumpToCurrentDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	cache := &countingCache{}
	c := Open(ctx, newStore(cache), "intro", 5)
	c.Advance(ctx)
	before := c.Record()
	writes := cache.writes()

	assert.False(t, c.JumpTo(ctx, c.CurrentStep()))

	assert.Equal(t, before, c.Record())
	assert.Equal(t, writes, cache.writes())
}

func TestController_JumpToLockedIsSilentNoop(t *testing.T) {
	ctx := context.Background()
	cache := &countingCache{}
	c := Open(ctx, newStore(cache), "intro", 5)
	writes := cache.writes()

	for _, i := range []int{-1, 1, 4, 9} {
		assert.False(t, c.JumpTo(ctx, i), "step %d", i)
	}
	assert.Equal(t, 0, c.CurrentStep())
	assert.Equal(t, writes, cache.writes())
}

func TestController_JumpBackAndForth(t *testing.T) {
	ctx := context.Background()
	store := newStore(&countingCache{})
	c := Open(ctx, store, "intro", 5)
	c.Advance(ctx)
	c.Advance(ctx)

	require.True(t, c.JumpTo(ctx, 0))
	assert.Equal(t, []State{StateCurrent, StateUnlocked, StateUnlocked, StateLocked, StateLocked}, c.States())
	assert.Equal(t, []int{0, 1, 2}, c.Record().UnlockedSteps)
	assert.Equal(t, 0, store.Local("intro").CurrentStep, "jump is persisted")

	require.True(t, c.JumpTo(ctx, 2))
	assert.Equal(t, 2, c.CurrentStep())

	// Advancing from a revisited step moves forward one step at a time.
	require.True(t, c.JumpTo(ctx, 1))
	require.True(t, c.Advance(ctx))
	assert.Equal(t, 2, c.CurrentStep())
	assert.Equal(t, []int{0, 1, 2}, c.Record().UnlockedSteps)
}

func TestController_UnlockedStepsStayContiguous(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		steps := 1 + rng.Intn(8)
		c := Open(ctx, newStore(&countingCache{}), "intro", steps)

		for op := 0; op < 30; op++ {
			if rng.Intn(3) == 0 {
				c.JumpTo(ctx, rng.Intn(steps+2)-1)
			} else {
				c.Advance(ctx)
			}

			rec := c.Record()
			for i, s := range rec.UnlockedSteps {
				require.Equal(t, i, s, "unlocked steps must be 0..max")
			}
			require.True(t, rec.IsUnlocked(rec.CurrentStep))
			require.Less(t, rec.MaxUnlocked(), steps)
		}
	}
}

func TestFromLocal_ClampsToCurrentCatalog(t *testing.T) {
	ctx := context.Background()
	store := newStore(&countingCache{})
	store.RecordStepAdvance(ctx, "intro", 6)

	c := FromLocal(store, "intro", 3)

	assert.Equal(t, 2, c.CurrentStep())
	assert.Equal(t, StateCurrent, c.State(2))
	assert.Equal(t, StateLocked, c.State(3))
	assert.False(t, c.Advance(ctx))
}
