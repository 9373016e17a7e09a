// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"

	"github.com/stepwise-hub/stepwise/internal/application/progressstore"
	"github.com/stepwise-hub/stepwise/internal/application/stepgate"
	"github.com/stepwise-hub/stepwise/internal/domain/content"
	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// READER TARGET
// Every reader command addresses one content item inside one reader
// namespace. These helpers resolve the item and its progress store.
// ══════════════════════════════════════════════════════════════════════════════

// Target identifies the content item a command acts on.
type Target struct {
	// Namespace is the reader the item is opened in (lessons or library).
	Namespace shared.Namespace

	// ContentID is the catalog id of the lesson or chapter.
	ContentID string
}

// Validate validates the target.
func (t Target) Validate(op string) error {
	if !t.Namespace.IsValid() {
		return fmt.Errorf("%s: %w", op, shared.ErrInvalidNamespace)
	}
	if t.ContentID == "" {
		return fmt.Errorf("%s: content_id is required: %w", op, shared.ErrValidation)
	}
	return nil
}

// resolver loads items and stores for handlers.
type resolver struct {
	items  content.Source
	stores *progressstore.Registry
}

type resolved struct {
	item  *content.Item
	store *progressstore.Store
}

func (r resolver) resolve(ctx context.Context, t Target) (resolved, error) {
	store, err := r.stores.For(t.Namespace)
	if err != nil {
		return resolved{}, err
	}
	item, err := r.items.Item(ctx, t.ContentID)
	if err != nil {
		return resolved{}, err
	}
	if item.Kind != content.ItemKindFor(t.Namespace) {
		return resolved{}, shared.ErrContentNotFound
	}
	return resolved{item: item, store: store}, nil
}

func (r resolved) gate() *stepgate.Controller {
	return stepgate.FromLocal(r.store, r.item.ID.String(), r.item.StepCount())
}

// StepView is the gate state returned by every reader command.
type StepView struct {
	// States holds the state of every step in order.
	States []stepgate.State

	// Progress is the record after the command.
	Progress progress.Summary
}

func viewOf(g *stepgate.Controller, item *content.Item) StepView {
	return StepView{
		States:   g.States(),
		Progress: g.Record().Summarize(item.SectionCount()),
	}
}
