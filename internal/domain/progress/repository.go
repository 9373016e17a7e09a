package progress

import (
	"context"
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// ErrCacheMiss возвращается LocalCache, если по ключу ничего нет.
var ErrCacheMiss = errors.New("progress: cache miss")

// LocalCache - синхронное долговременное хранилище на устройстве.
// Реализации: infrastructure/persistence/badger, infrastructure/persistence/redis.
type LocalCache interface {
	// Get возвращает байты по ключу или ErrCacheMiss.
	Get(key string) ([]byte, error)

	// Set сохраняет байты по ключу.
	Set(key string, value []byte) error
}

// RemoteStore - асинхронное авторитетное хранилище.
// Реализация: infrastructure/external/progressapi.
type RemoteStore interface {
	// Get возвращает снимок прогресса. (nil, nil) - записи нет (404).
	Get(ctx context.Context, contentID string) (*Snapshot, error)

	// Put заменяет запись целиком.
	Put(ctx context.Context, contentID string, snap Snapshot) error
}

// Repository - серверная сторона RemoteStore: постоянное хранение записей.
// Реализация: infrastructure/persistence/postgres.
type Repository interface {
	// Find возвращает запись или shared.ErrNotFound.
	Find(ctx context.Context, contentID string) (*Snapshot, error)

	// Replace сохраняет запись целиком (last writer wins).
	Replace(ctx context.Context, contentID string, snap Snapshot) error
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT (wire shape)
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - форма записи в протоколе RemoteStore:
// {currentStep, completedSections, lastUpdated, started, unlockedSteps?}.
type Snapshot struct {
	CurrentStep       int       `json:"currentStep"`
	CompletedSections []int     `json:"completedSections"`
	LastUpdated       time.Time `json:"lastUpdated"`
	Started           bool      `json:"started"`

	// UnlockedSteps не входит в минимальный протокол; если его нет,
	// открытыми считаются {0..currentStep}.
	UnlockedSteps []int `json:"unlockedSteps,omitempty"`
}

// Valid - снимок структурно корректен: коллекция завершённых секций
// присутствует (пусть и пустая).
func (s *Snapshot) Valid() bool {
	return s != nil && s.CompletedSections != nil
}

// ToRecord превращает снимок в запись с восстановленными инвариантами.
func (s Snapshot) ToRecord(contentID string) Record {
	r := Record{
		ContentID:         contentID,
		UnlockedSteps:     append([]int(nil), s.UnlockedSteps...),
		CurrentStep:       s.CurrentStep,
		CompletedSections: append([]int{}, s.CompletedSections...),
		LastUpdated:       s.LastUpdated,
		Started:           s.Started,
	}
	r.Normalize()
	return r
}

// Snapshot превращает запись в форму протокола.
func (r Record) Snapshot() Snapshot {
	completed := r.CompletedSections
	if completed == nil {
		completed = []int{}
	}
	return Snapshot{
		CurrentStep:       r.CurrentStep,
		CompletedSections: append([]int{}, completed...),
		LastUpdated:       r.LastUpdated,
		Started:           r.Started,
		UnlockedSteps:     append([]int(nil), r.UnlockedSteps...),
	}
}
