package content

import (
	"strings"

	"github.com/stepwise-hub/stepwise/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ITEM (Lesson / Chapter)
// ══════════════════════════════════════════════════════════════════════════════

// ItemKind - тип единицы контента.
type ItemKind string

const (
	// ItemKindLesson - урок курса.
	ItemKindLesson ItemKind = "lesson"
	// ItemKindChapter - глава книги в библиотеке.
	ItemKindChapter ItemKind = "chapter"
)

// IsValid проверяет тип.
func (k ItemKind) IsValid() bool {
	return k == ItemKindLesson || k == ItemKindChapter
}

// Item - урок или глава. Неизменяем после создания.
type Item struct {
	// ID - идентификатор в каталоге, он же ключ прогресса.
	ID shared.ContentID

	// Kind - lesson или chapter.
	Kind ItemKind

	// Title - название.
	Title string

	// Version - версия каталога, из которой загружен элемент.
	Version string

	sections []Section
	steps    []Step
}

// Step - группа секций, которая открывается целиком.
type Step struct {
	// Index - порядковый номер шага (с нуля).
	Index int

	// Title - заголовок шага; пуст, если шаг начинается не с heading.
	Title string

	// SectionIndices - индексы секций шага в исходном порядке.
	SectionIndices []int
}

// NewItemParams - параметры создания Item.
type NewItemParams struct {
	ID       string
	Kind     ItemKind
	Title    string
	Version  string
	Sections []Section
}

// NewItem создаёт Item с валидацией и вычисляет разбиение на шаги.
func NewItem(p NewItemParams) (*Item, error) {
	id, err := shared.NewContentID(p.ID)
	if err != nil {
		return nil, err
	}
	if !p.Kind.IsValid() {
		return nil, shared.WrapError("content", "NewItem", shared.ErrInvalidInput, "unknown item kind "+string(p.Kind), nil)
	}
	if strings.TrimSpace(p.Title) == "" {
		return nil, shared.NewDomainError("content", "NewItem", shared.ErrEmptyValue, "title is required")
	}
	sections := make([]Section, 0, len(p.Sections))
	for _, s := range p.Sections {
		if s != nil {
			sections = append(sections, s)
		}
	}
	return &Item{
		ID:       id,
		Kind:     p.Kind,
		Title:    p.Title,
		Version:  p.Version,
		sections: sections,
		steps:    Partition(sections),
	}, nil
}

// Sections возвращает копию списка секций.
func (it *Item) Sections() []Section {
	out := make([]Section, len(it.sections))
	copy(out, it.sections)
	return out
}

// SectionCount возвращает число секций (знаменатель процента прохождения).
func (it *Item) SectionCount() int {
	return len(it.sections)
}

// Section возвращает секцию по индексу.
func (it *Item) Section(index int) (Section, error) {
	if index < 0 || index >= len(it.sections) {
		return nil, shared.ErrInvalidSectionIndex
	}
	return it.sections[index], nil
}

// Steps возвращает разбиение на шаги. Всегда содержит хотя бы один шаг.
func (it *Item) Steps() []Step {
	out := make([]Step, len(it.steps))
	copy(out, it.steps)
	return out
}

// StepCount возвращает число шагов.
func (it *Item) StepCount() int {
	return len(it.steps)
}

// StepOf возвращает индекс шага, которому принадлежит секция.
func (it *Item) StepOf(sectionIndex int) (int, bool) {
	for _, st := range it.steps {
		if len(st.SectionIndices) == 0 {
			continue
		}
		first := st.SectionIndices[0]
		last := st.SectionIndices[len(st.SectionIndices)-1]
		if sectionIndex >= first && sectionIndex <= last {
			return st.Index, true
		}
	}
	return 0, false
}

// Checkpoint возвращает контрольный вопрос по индексу секции.
func (it *Item) Checkpoint(sectionIndex int) (CheckpointSection, error) {
	s, err := it.Section(sectionIndex)
	if err != nil {
		return CheckpointSection{}, shared.ErrSectionNotFound
	}
	cp, ok := s.(CheckpointSection)
	if !ok {
		return CheckpointSection{}, shared.ErrNotACheckpoint
	}
	return cp, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PARTITION
// ══════════════════════════════════════════════════════════════════════════════

// Partition разбивает секции на шаги: heading открывает новый шаг, если
// текущий не пуст. Пустой список даёт ровно один пустой шаг.
func Partition(sections []Section) []Step {
	steps := []Step{{Index: 0}}
	for i, s := range sections {
		cur := &steps[len(steps)-1]
		h, isHeading := s.(HeadingSection)
		if isHeading && len(cur.SectionIndices) > 0 {
			steps = append(steps, Step{Index: len(steps)})
			cur = &steps[len(steps)-1]
		}
		if isHeading && cur.Title == "" {
			cur.Title = h.Title
		}
		cur.SectionIndices = append(cur.SectionIndices, i)
	}
	return steps
}

// ItemKindFor возвращает тип элементов, которые читаются в пространстве ns.
func ItemKindFor(ns shared.Namespace) ItemKind {
	if ns == shared.NamespaceLibrary {
		return ItemKindChapter
	}
	return ItemKindLesson
}
