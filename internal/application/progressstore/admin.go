package progressstore

import (
	"errors"
	"sort"
	"strings"

	"github.com/stepwise-hub/stepwise/internal/infrastructure/metrics"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

// Resettable is implemented by local caches that can list and drop records.
// Both the Badger and the Redis caches are.
type Resettable interface {
	Keys(prefix string) ([]string, error)
	Delete(key string) (bool, error)
}

// ErrNotResettable is returned when the local cache is not Resettable.
var ErrNotResettable = errors.New("progressstore: local cache cannot list or delete records")

// LocalContentIDs lists the content items that have a local record, sorted.
func (s *Store) LocalContentIDs() ([]string, error) {
	rc, ok := s.local.(Resettable)
	if !ok {
		return nil, ErrNotResettable
	}
	keys, err := rc.Keys(s.keyPrefix())
	if err != nil {
		metrics.LocalCacheErrors.WithLabelValues("keys").Inc()
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, s.keyPrefix()))
	}
	sort.Strings(ids)
	return ids, nil
}

// ResetLocal drops the local record of contentID and reports whether there
// was one. The remote record is left alone: with sync enabled, the next
// Load restores it.
func (s *Store) ResetLocal(contentID string) (bool, error) {
	rc, ok := s.local.(Resettable)
	if !ok {
		return false, ErrNotResettable
	}

	s.mu.Lock()
	existed, err := rc.Delete(s.Key(contentID))
	s.mu.Unlock()

	if err != nil {
		metrics.LocalCacheErrors.WithLabelValues("delete").Inc()
		return false, err
	}
	if existed {
		s.log.Info("local progress reset", logger.ContentID(contentID))
	}
	return existed, nil
}
