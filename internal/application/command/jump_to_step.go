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
// JUMP TO STEP COMMAND
// Revisits a step that is already unlocked. Jumps to locked steps are
// ignored, not rejected.
// ══════════════════════════════════════════════════════════════════════════════

// JumpToStepCommand contains the data to jump to a step.
type JumpToStepCommand struct {
	Target

	// Step is the index of the step to make current.
	Step int
}

// Validate validates the command.
func (c JumpToStepCommand) Validate() error {
	if err := c.Target.Validate("jump_to_step"); err != nil {
		return err
	}
	if c.Step < 0 {
		return fmt.Errorf("jump_to_step: %w", shared.ErrInvalidStepIndex)
	}
	return nil
}

// JumpToStepResult contains the result of a jump.
type JumpToStepResult struct {
	StepView

	// Jumped is false when the step was locked or already current.
	Jumped bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// JumpToStepHandler handles the JumpToStepCommand.
type JumpToStepHandler struct {
	resolver
	log *logger.Logger
}

// NewJumpToStepHandler creates a new JumpToStepHandler.
func NewJumpToStepHandler(items content.Source, stores *progressstore.Registry, log *logger.Logger) *JumpToStepHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &JumpToStepHandler{
		resolver: resolver{items: items, stores: stores},
		log:      log,
	}
}

// Handle executes the jump command.
func (h *JumpToStepHandler) Handle(ctx context.Context, cmd JumpToStepCommand) (*JumpToStepResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	r, err := h.resolve(ctx, cmd.Target)
	if err != nil {
		return nil, fmt.Errorf("jump_to_step: %w", err)
	}

	g := r.gate()
	jumped := g.JumpTo(ctx, cmd.Step)
	if !jumped {
		h.log.Debug("jump ignored",
			logger.ContentID(cmd.ContentID),
			logger.Step(cmd.Step),
			logger.String("state", string(g.State(cmd.Step))))
	}

	return &JumpToStepResult{StepView: viewOf(g, r.item), Jumped: jumped}, nil
}
