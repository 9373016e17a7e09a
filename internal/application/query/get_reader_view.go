// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/stepwise-hub/stepwise/internal/application/progressstore"
	"github.com/stepwise-hub/stepwise/internal/application/stepgate"
	"github.com/stepwise-hub/stepwise/internal/domain/content"
	"github.com/stepwise-hub/stepwise/internal/domain/markup"
	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/metrics"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET READER VIEW QUERY
// Открывает элемент для чтения: подтягивает прогресс (с учётом удалённого
// хранилища), отмечает первый просмотр и собирает всё, что нужно слою
// отображения: состояния шагов, фрагменты текста открытых шагов и
// производные показатели прогресса.
// ══════════════════════════════════════════════════════════════════════════════

// GetReaderViewQuery содержит параметры открытия элемента.
type GetReaderViewQuery struct {
	// Namespace - читатель (уроки или библиотека).
	Namespace shared.Namespace

	// ContentID - ID урока или главы.
	ContentID string

	// Substitutions - значения для плейсхолдеров {name} в тексте.
	Substitutions map[string]string
}

// Validate проверяет корректность параметров запроса.
func (q GetReaderViewQuery) Validate() error {
	if !q.Namespace.IsValid() {
		return shared.ErrInvalidNamespace
	}
	if q.ContentID == "" {
		return fmt.Errorf("content_id is required: %w", shared.ErrValidation)
	}
	return nil
}

// ReaderViewDTO - всё, что нужно для отрисовки элемента.
type ReaderViewDTO struct {
	ContentID      string           `json:"content_id"`
	Namespace      string           `json:"namespace"`
	Kind           string           `json:"kind"`
	Title          string           `json:"title"`
	CatalogVersion string           `json:"catalog_version"`
	SessionID      string           `json:"session_id"`
	Steps          []StepDTO        `json:"steps"`
	Progress       progress.Summary `json:"progress"`
}

// StepDTO - шаг и его состояние. У закрытых шагов секции не передаются.
type StepDTO struct {
	Index    int            `json:"index"`
	Title    string         `json:"title,omitempty"`
	State    stepgate.State `json:"state"`
	Sections []SectionDTO   `json:"sections,omitempty"`
}

// SectionDTO - секция с размеченными текстовыми полями.
type SectionDTO struct {
	Index     int            `json:"index"`
	Kind      string         `json:"kind"`
	Completed bool           `json:"completed"`
	Fields    []FieldDTO     `json:"fields"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// FieldDTO - одно текстовое поле секции.
type FieldDTO struct {
	Name      string            `json:"name"`
	Fragments []markup.Fragment `json:"fragments"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetReaderViewHandler обрабатывает запрос открытия элемента.
type GetReaderViewHandler struct {
	items       content.Source
	stores      *progressstore.Registry
	personalize bool
	log         *logger.Logger
}

// NewGetReaderViewHandler создаёт обработчик. При personalize=false
// подстановки из запроса игнорируются и плейсхолдеры остаются в тексте.
func NewGetReaderViewHandler(items content.Source, stores *progressstore.Registry, personalize bool, log *logger.Logger) *GetReaderViewHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetReaderViewHandler{
		items:       items,
		stores:      stores,
		personalize: personalize,
		log:         log.With(logger.Component("reader_view")),
	}
}

// Handle выполняет запрос.
func (h *GetReaderViewHandler) Handle(ctx context.Context, q GetReaderViewQuery) (*ReaderViewDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	store, err := h.stores.For(q.Namespace)
	if err != nil {
		return nil, err
	}
	item, err := h.items.Item(ctx, q.ContentID)
	if err != nil {
		return nil, err
	}
	if item.Kind != content.ItemKindFor(q.Namespace) {
		return nil, shared.ErrContentNotFound
	}

	gate := stepgate.Open(ctx, store, item.ID.String(), item.StepCount())
	rec := gate.Record()
	states := gate.States()

	subs := q.Substitutions
	if !h.personalize {
		subs = nil
	}

	sections := item.Sections()
	steps := make([]StepDTO, 0, item.StepCount())
	for _, st := range item.Steps() {
		dto := StepDTO{Index: st.Index, Title: st.Title, State: states[st.Index]}
		if dto.State != stepgate.StateLocked {
			dto.Sections = make([]SectionDTO, 0, len(st.SectionIndices))
			for _, idx := range st.SectionIndices {
				dto.Sections = append(dto.Sections, h.section(item, idx, sections[idx], rec, subs))
			}
		}
		steps = append(steps, dto)
	}

	return &ReaderViewDTO{
		ContentID:      item.ID.String(),
		Namespace:      q.Namespace.String(),
		Kind:           string(item.Kind),
		Title:          item.Title,
		CatalogVersion: h.items.Version(),
		SessionID:      uuid.NewString(),
		Steps:          steps,
		Progress:       rec.Summarize(item.SectionCount()),
	}, nil
}

func (h *GetReaderViewHandler) section(item *content.Item, idx int, s content.Section, rec progress.Record, subs map[string]string) SectionDTO {
	dto := SectionDTO{
		Index:     idx,
		Kind:      s.Kind().String(),
		Completed: rec.IsSectionCompleted(idx),
		Attrs:     attrsOf(s),
	}

	for _, f := range s.TextFields() {
		frags := markup.Render(f.Text, subs)
		if len(frags) == 0 {
			// Пустое поле не роняет элемент: пропускаем и идём дальше.
			metrics.MalformedFields.WithLabelValues(s.Kind().String()).Inc()
			h.log.Debug("skipping empty section field",
				logger.ContentID(item.ID.String()),
				logger.SectionIndex(idx),
				logger.String("field", f.Name))
			continue
		}
		dto.Fields = append(dto.Fields, FieldDTO{Name: f.Name, Fragments: frags})
	}
	if dto.Fields == nil {
		dto.Fields = []FieldDTO{}
	}
	return dto
}

// attrsOf возвращает нетекстовые данные секции. Правильный ответ
// контрольного вопроса наружу не отдаётся.
func attrsOf(s content.Section) map[string]any {
	switch v := s.(type) {
	case content.ListSection:
		return map[string]any{"ordered": v.Ordered}
	case content.CalloutSection:
		return map[string]any{"tone": string(v.Tone)}
	case content.CheckpointSection:
		return map[string]any{"option_count": len(v.Options)}
	case content.FrameworkSection:
		labels := make([]string, len(v.Steps))
		for i, st := range v.Steps {
			labels[i] = st.Label
		}
		return map[string]any{"labels": labels}
	case content.CalculatorSection:
		fields := make([]map[string]any, len(v.Fields))
		for i, f := range v.Fields {
			fields[i] = map[string]any{"key": f.Key, "default": f.Default}
		}
		return map[string]any{"fields": fields}
	default:
		return nil
	}
}
