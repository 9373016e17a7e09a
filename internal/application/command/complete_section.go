package command

import (
	"context"
	"fmt"

	"github.com/stepwise-hub/stepwise/internal/application/progressstore"
	"github.com/stepwise-hub/stepwise/internal/domain/content"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE SECTION COMMAND
// Marks one section as completed. Completing the same section again is a
// no-op and does not write.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteSectionCommand contains the data to complete a section.
type CompleteSectionCommand struct {
	Target

	// SectionIndex is the index of the section in the item.
	SectionIndex int
}

// Validate validates the command.
func (c CompleteSectionCommand) Validate() error {
	if err := c.Target.Validate("complete_section"); err != nil {
		return err
	}
	if c.SectionIndex < 0 {
		return fmt.Errorf("complete_section: %w", shared.ErrInvalidSectionIndex)
	}
	return nil
}

// CompleteSectionResult contains the result of completing a section.
type CompleteSectionResult struct {
	StepView

	// AlreadyCompleted is true when the section was completed before.
	AlreadyCompleted bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CompleteSectionHandler handles the CompleteSectionCommand.
type CompleteSectionHandler struct {
	resolver
	log *logger.Logger
}

// NewCompleteSectionHandler creates a new CompleteSectionHandler.
func NewCompleteSectionHandler(items content.Source, stores *progressstore.Registry, log *logger.Logger) *CompleteSectionHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &CompleteSectionHandler{
		resolver: resolver{items: items, stores: stores},
		log:      log,
	}
}

// Handle executes the complete section command.
func (h *CompleteSectionHandler) Handle(ctx context.Context, cmd CompleteSectionCommand) (*CompleteSectionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	r, err := h.resolve(ctx, cmd.Target)
	if err != nil {
		return nil, fmt.Errorf("complete_section: %w", err)
	}
	if _, err := r.item.Section(cmd.SectionIndex); err != nil {
		return nil, fmt.Errorf("complete_section: %w", err)
	}

	already := r.store.Local(cmd.ContentID).IsSectionCompleted(cmd.SectionIndex)
	rec := r.store.RecordSectionComplete(ctx, cmd.ContentID, cmd.SectionIndex)

	if !already && rec.IsComplete(r.item.SectionCount()) {
		h.log.Info("content item completed",
			logger.ContentID(cmd.ContentID),
			logger.Namespace(cmd.Namespace.String()))
	}

	return &CompleteSectionResult{StepView: viewOf(r.gate(), r.item), AlreadyCompleted: already}, nil
}
