package content

import (
	"context"

	"github.com/stepwise-hub/stepwise/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog - неизменяемый набор элементов одной версии, реализует Source.
// Загрузчик каталога собирает его один раз при старте.
type Catalog struct {
	version string
	byID    map[string]*Item
	order   []*Item
}

// NewCatalog создаёт каталог. Элементы с повторяющимся ID отбрасываются,
// остаётся первый.
func NewCatalog(version string, items ...*Item) *Catalog {
	c := &Catalog{
		version: version,
		byID:    make(map[string]*Item, len(items)),
		order:   make([]*Item, 0, len(items)),
	}
	for _, it := range items {
		if it == nil {
			continue
		}
		id := it.ID.String()
		if _, dup := c.byID[id]; dup {
			continue
		}
		c.byID[id] = it
		c.order = append(c.order, it)
	}
	return c
}

// Item реализует Source.
func (c *Catalog) Item(_ context.Context, id string) (*Item, error) {
	it, ok := c.byID[id]
	if !ok {
		return nil, shared.ErrContentNotFound
	}
	return it, nil
}

// List реализует Source. Пустой kind возвращает все элементы.
func (c *Catalog) List(_ context.Context, kind ItemKind) ([]*Item, error) {
	out := make([]*Item, 0, len(c.order))
	for _, it := range c.order {
		if kind == "" || it.Kind == kind {
			out = append(out, it)
		}
	}
	return out, nil
}

// Version реализует Source.
func (c *Catalog) Version() string {
	return c.version
}

// Len возвращает число элементов.
func (c *Catalog) Len() int {
	return len(c.order)
}
