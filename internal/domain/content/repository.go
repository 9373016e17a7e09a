package content

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Source - порт доступа к каталогу контента.
// Реализуется в infrastructure/catalog.
type Source interface {
	// Item возвращает элемент по ID.
	// Отсутствие элемента - shared.ErrContentNotFound, а не panic.
	Item(ctx context.Context, id string) (*Item, error)

	// List возвращает все элементы заданного типа в порядке каталога.
	List(ctx context.Context, kind ItemKind) ([]*Item, error)

	// Version возвращает версию загруженного каталога.
	Version() string
}

// Store - тонкая обёртка над Source с операциями, нужными приложению.
type Store struct {
	src Source
}

// NewStore создаёт Store.
func NewStore(src Source) *Store {
	return &Store{src: src}
}

// Sections возвращает секции элемента.
func (s *Store) Sections(ctx context.Context, id string) ([]Section, error) {
	it, err := s.src.Item(ctx, id)
	if err != nil {
		return nil, err
	}
	return it.Sections(), nil
}

// Steps возвращает разбиение элемента на шаги.
func (s *Store) Steps(ctx context.Context, id string) ([]Step, error) {
	it, err := s.src.Item(ctx, id)
	if err != nil {
		return nil, err
	}
	return it.Steps(), nil
}

// Item возвращает элемент целиком.
func (s *Store) Item(ctx context.Context, id string) (*Item, error) {
	return s.src.Item(ctx, id)
}
