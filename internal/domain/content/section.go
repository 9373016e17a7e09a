package content

import "fmt"

// ══════════════════════════════════════════════════════════════════════════════
// SECTION KIND
// ══════════════════════════════════════════════════════════════════════════════

// Kind - тег варианта секции.
type Kind string

const (
	KindIntro           Kind = "intro"
	KindHeading         Kind = "heading"
	KindText            Kind = "text"
	KindList            Kind = "list"
	KindQuote           Kind = "quote"
	KindCallout         Kind = "callout"
	KindKeyPoint        Kind = "key-point"
	KindExample         Kind = "example"
	KindDefinition      Kind = "definition"
	KindFramework       Kind = "framework"
	KindBeforeAfter     Kind = "before-after"
	KindCheckpoint      Kind = "checkpoint"
	KindRevealCard      Kind = "reveal-card"
	KindMicroCommitment Kind = "micro-commitment"
	KindCalculator      Kind = "calculator"
)

// AllKinds возвращает все известные варианты секций.
func AllKinds() []Kind {
	return []Kind{
		KindIntro, KindHeading, KindText, KindList, KindQuote,
		KindCallout, KindKeyPoint, KindExample, KindDefinition,
		KindFramework, KindBeforeAfter, KindCheckpoint, KindRevealCard,
		KindMicroCommitment, KindCalculator,
	}
}

// IsValid проверяет, что тег известен.
func (k Kind) IsValid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// String возвращает строковое представление.
func (k Kind) String() string {
	return string(k)
}

// ══════════════════════════════════════════════════════════════════════════════
// SECTION
// ══════════════════════════════════════════════════════════════════════════════

// Section - один блок контента. Набор вариантов закрыт: реализовать
// интерфейс могут только типы этого пакета.
type Section interface {
	// Kind возвращает тег варианта.
	Kind() Kind

	// TextFields возвращает текстовые поля секции в порядке отображения.
	// Именно они проходят через токенизатор разметки.
	TextFields() []TextField

	section()
}

// TextField - именованное текстовое поле секции.
type TextField struct {
	// Name - имя поля ("text", "title", "items[2]" и т.п.).
	Name string

	// Text - сырой текст с разметкой.
	Text string
}

func field(name, text string) TextField { return TextField{Name: name, Text: text} }

// nonEmpty отбрасывает пустые необязательные поля.
func nonEmpty(fields ...TextField) []TextField {
	out := make([]TextField, 0, len(fields))
	for _, f := range fields {
		if f.Text != "" {
			out = append(out, f)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// VARIANTS
// ══════════════════════════════════════════════════════════════════════════════

// IntroSection - вводный абзац.
type IntroSection struct {
	Text string
}

func (IntroSection) Kind() Kind                { return KindIntro }
func (s IntroSection) TextFields() []TextField { return []TextField{field("text", s.Text)} }
func (IntroSection) section()                  {}

// HeadingSection - заголовок, открывающий новый шаг.
type HeadingSection struct {
	Title    string
	Subtitle string
}

func (HeadingSection) Kind() Kind { return KindHeading }
func (s HeadingSection) TextFields() []TextField {
	return nonEmpty(field("title", s.Title), field("subtitle", s.Subtitle))
}
func (HeadingSection) section() {}

// TextSection - обычный абзац.
type TextSection struct {
	Text string
}

func (TextSection) Kind() Kind                { return KindText }
func (s TextSection) TextFields() []TextField { return []TextField{field("text", s.Text)} }
func (TextSection) section()                  {}

// ListSection - маркированный или нумерованный список.
type ListSection struct {
	Title   string
	Items   []string
	Ordered bool
}

func (ListSection) Kind() Kind { return KindList }
func (s ListSection) TextFields() []TextField {
	out := nonEmpty(field("title", s.Title))
	for i, item := range s.Items {
		out = append(out, field(fmt.Sprintf("items[%d]", i), item))
	}
	return out
}
func (ListSection) section() {}

// QuoteSection - цитата.
type QuoteSection struct {
	Text        string
	Attribution string
}

func (QuoteSection) Kind() Kind { return KindQuote }
func (s QuoteSection) TextFields() []TextField {
	return nonEmpty(field("text", s.Text), field("attribution", s.Attribution))
}
func (QuoteSection) section() {}

// CalloutTone - оттенок выноски.
type CalloutTone string

const (
	CalloutToneInfo    CalloutTone = "info"
	CalloutToneTip     CalloutTone = "tip"
	CalloutToneWarning CalloutTone = "warning"
)

// CalloutSection - выделенная выноска.
type CalloutSection struct {
	Tone  CalloutTone
	Title string
	Text  string
}

func (CalloutSection) Kind() Kind { return KindCallout }
func (s CalloutSection) TextFields() []TextField {
	return nonEmpty(field("title", s.Title), field("text", s.Text))
}
func (CalloutSection) section() {}

// KeyPointSection - ключевая мысль.
type KeyPointSection struct {
	Text string
}

func (KeyPointSection) Kind() Kind                { return KindKeyPoint }
func (s KeyPointSection) TextFields() []TextField { return []TextField{field("text", s.Text)} }
func (KeyPointSection) section()                  {}

// ExampleSection - пример.
type ExampleSection struct {
	Title string
	Text  string
}

func (ExampleSection) Kind() Kind { return KindExample }
func (s ExampleSection) TextFields() []TextField {
	return nonEmpty(field("title", s.Title), field("text", s.Text))
}
func (ExampleSection) section() {}

// DefinitionSection - определение термина.
type DefinitionSection struct {
	Term    string
	Meaning string
}

func (DefinitionSection) Kind() Kind { return KindDefinition }
func (s DefinitionSection) TextFields() []TextField {
	return []TextField{field("term", s.Term), field("meaning", s.Meaning)}
}
func (DefinitionSection) section() {}

// FrameworkStep - один пункт фреймворка.
type FrameworkStep struct {
	Label string
	Text  string
}

// FrameworkSection - пошаговый фреймворк (например, "3 шага к бюджету").
type FrameworkSection struct {
	Title string
	Steps []FrameworkStep
}

func (FrameworkSection) Kind() Kind { return KindFramework }
func (s FrameworkSection) TextFields() []TextField {
	out := []TextField{field("title", s.Title)}
	for i, st := range s.Steps {
		out = append(out,
			field(fmt.Sprintf("steps[%d].label", i), st.Label),
			field(fmt.Sprintf("steps[%d].text", i), st.Text),
		)
	}
	return out
}
func (FrameworkSection) section() {}

// BeforeAfterSection - сравнение "до/после".
type BeforeAfterSection struct {
	Before string
	After  string
}

func (BeforeAfterSection) Kind() Kind { return KindBeforeAfter }
func (s BeforeAfterSection) TextFields() []TextField {
	return []TextField{field("before", s.Before), field("after", s.After)}
}
func (BeforeAfterSection) section() {}

// Option - вариант ответа контрольного вопроса.
type Option struct {
	Label     string
	IsCorrect bool
}

// CheckpointSection - встроенный контрольный вопрос.
type CheckpointSection struct {
	Question       string
	Options        []Option
	SuccessMessage string
}

func (CheckpointSection) Kind() Kind { return KindCheckpoint }
func (s CheckpointSection) TextFields() []TextField {
	out := []TextField{field("question", s.Question)}
	for i, o := range s.Options {
		out = append(out, field(fmt.Sprintf("options[%d]", i), o.Label))
	}
	return append(out, field("successMessage", s.SuccessMessage))
}
func (CheckpointSection) section() {}

// CorrectIndex возвращает индекс правильного ответа: первый вариант,
// помеченный как верный. ok=false, если верных вариантов нет.
func (s CheckpointSection) CorrectIndex() (int, bool) {
	for i, o := range s.Options {
		if o.IsCorrect {
			return i, true
		}
	}
	return -1, false
}

// RevealCardSection - карточка, скрывающая ответ до нажатия.
type RevealCardSection struct {
	Prompt string
	Reveal string
}

func (RevealCardSection) Kind() Kind { return KindRevealCard }
func (s RevealCardSection) TextFields() []TextField {
	return []TextField{field("prompt", s.Prompt), field("reveal", s.Reveal)}
}
func (RevealCardSection) section() {}

// MicroCommitmentSection - маленькое обязательство читателя.
type MicroCommitmentSection struct {
	Prompt      string
	ActionLabel string
}

func (MicroCommitmentSection) Kind() Kind { return KindMicroCommitment }
func (s MicroCommitmentSection) TextFields() []TextField {
	return []TextField{field("prompt", s.Prompt), field("actionLabel", s.ActionLabel)}
}
func (MicroCommitmentSection) section() {}

// CalculatorField - поле ввода калькулятора.
type CalculatorField struct {
	Key     string
	Label   string
	Default float64
}

// CalculatorSection - интерактивный калькулятор.
type CalculatorSection struct {
	Title          string
	Fields         []CalculatorField
	ResultTemplate string
}

func (CalculatorSection) Kind() Kind { return KindCalculator }
func (s CalculatorSection) TextFields() []TextField {
	out := []TextField{field("title", s.Title)}
	for i, f := range s.Fields {
		out = append(out, field(fmt.Sprintf("fields[%d]", i), f.Label))
	}
	return append(out, nonEmpty(field("resultTemplate", s.ResultTemplate))...)
}
func (CalculatorSection) section() {}
