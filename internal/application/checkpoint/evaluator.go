// Package checkpoint evaluates answers to inline checkpoint questions.
//
// Evaluation is stateless: there is no attempt counter and no lockout, so a
// reader can always retry after an incorrect answer. A correct outcome is a
// signal only; advancing the step gate is the caller's job.
package checkpoint

import (
	"context"
	"fmt"

	"github.com/stepwise-hub/stepwise/internal/domain/content"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/metrics"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

// Ref identifies a checkpoint by its position in a content item.
type Ref struct {
	ContentID    string
	SectionIndex int
}

// Outcome is the result of one submission.
type Outcome struct {
	// Correct reports whether the chosen option is the right one.
	Correct bool `json:"correct"`

	// SuccessMessage is set only when Correct is true.
	SuccessMessage string `json:"successMessage,omitempty"`
}

// Evaluator checks checkpoint submissions against the content catalog.
type Evaluator struct {
	items content.Source
	log   *logger.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(items content.Source, log *logger.Logger) *Evaluator {
	if log == nil {
		log = logger.Nop()
	}
	return &Evaluator{items: items, log: log.With(logger.Component("checkpoint"))}
}

// Submit evaluates option against the checkpoint at ref.
//
// When several options are flagged correct the first one is the answer.
// A checkpoint with no flagged option can never be answered correctly.
func (e *Evaluator) Submit(ctx context.Context, ref Ref, option int) (Outcome, error) {
	item, err := e.items.Item(ctx, ref.ContentID)
	if err != nil {
		return Outcome{}, err
	}

	cp, err := item.Checkpoint(ref.SectionIndex)
	if err != nil {
		return Outcome{}, shared.WrapError("checkpoint", "Submit", err,
			fmt.Sprintf("section %d of %s", ref.SectionIndex, ref.ContentID), nil)
	}

	if option < 0 || option >= len(cp.Options) {
		metrics.CheckpointSubmissions.WithLabelValues(metrics.ResultInvalid).Inc()
		return Outcome{}, shared.WrapError("checkpoint", "Submit", shared.ErrOptionOutOfRange,
			fmt.Sprintf("option %d of %d", option, len(cp.Options)), nil)
	}

	correct, ok := cp.CorrectIndex()
	if ok && option == correct {
		metrics.CheckpointSubmissions.WithLabelValues(metrics.ResultCorrect).Inc()
		e.log.Debug("checkpoint answered correctly",
			logger.ContentID(ref.ContentID), logger.SectionIndex(ref.SectionIndex))
		return Outcome{Correct: true, SuccessMessage: cp.SuccessMessage}, nil
	}

	metrics.CheckpointSubmissions.WithLabelValues(metrics.ResultIncorrect).Inc()
	return Outcome{Correct: false}, nil
}
