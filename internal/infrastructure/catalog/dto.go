package catalog

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/stepwise-hub/stepwise/internal/domain/content"
)

// ══════════════════════════════════════════════════════════════════════════════
// FILE SHAPES
// ══════════════════════════════════════════════════════════════════════════════

// manifestYAML is the root catalog.yaml file.
type manifestYAML struct {
	Version string   `yaml:"version" validate:"required"`
	Items   []string `yaml:"items" validate:"required,min=1,dive,required"`
}

// itemYAML is one lesson or chapter file.
type itemYAML struct {
	ID       string      `yaml:"id" validate:"required"`
	Kind     string      `yaml:"kind" validate:"required,oneof=lesson chapter"`
	Title    string      `yaml:"title" validate:"required"`
	Sections []yaml.Node `yaml:"sections"`
}

// sectionHeader carries the union tag of a section.
type sectionHeader struct {
	Type string `yaml:"type"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SECTION PAYLOADS
// A missing required string is a soft failure: the section is kept and the
// field is skipped at render time. Anything else drops the section.
// ══════════════════════════════════════════════════════════════════════════════

type introYAML struct {
	Text string `yaml:"text" validate:"required"`
}

type headingYAML struct {
	Title    string `yaml:"title" validate:"required"`
	Subtitle string `yaml:"subtitle"`
}

type textYAML struct {
	Text string `yaml:"text" validate:"required"`
}

type listYAML struct {
	Title   string   `yaml:"title"`
	Items   []string `yaml:"items" validate:"required,min=1,dive,required"`
	Ordered bool     `yaml:"ordered"`
}

type quoteYAML struct {
	Text        string `yaml:"text" validate:"required"`
	Attribution string `yaml:"attribution"`
}

type calloutYAML struct {
	Tone  string `yaml:"tone" validate:"omitempty,oneof=info tip warning"`
	Title string `yaml:"title"`
	Text  string `yaml:"text" validate:"required"`
}

type keyPointYAML struct {
	Text string `yaml:"text" validate:"required"`
}

type exampleYAML struct {
	Title string `yaml:"title"`
	Text  string `yaml:"text" validate:"required"`
}

type definitionYAML struct {
	Term    string `yaml:"term" validate:"required"`
	Meaning string `yaml:"meaning" validate:"required"`
}

type frameworkStepYAML struct {
	Label string `yaml:"label" validate:"required"`
	Text  string `yaml:"text" validate:"required"`
}

type frameworkYAML struct {
	Title string              `yaml:"title" validate:"required"`
	Steps []frameworkStepYAML `yaml:"steps" validate:"required,min=1,dive"`
}

type beforeAfterYAML struct {
	Before string `yaml:"before" validate:"required"`
	After  string `yaml:"after" validate:"required"`
}

type optionYAML struct {
	Label     string `yaml:"label" validate:"required"`
	IsCorrect bool   `yaml:"isCorrect"`
}

type checkpointYAML struct {
	Question       string       `yaml:"question" validate:"required"`
	Options        []optionYAML `yaml:"options" validate:"required,min=2,dive"`
	SuccessMessage string       `yaml:"successMessage" validate:"required"`
}

type revealCardYAML struct {
	Prompt string `yaml:"prompt" validate:"required"`
	Reveal string `yaml:"reveal" validate:"required"`
}

type microCommitmentYAML struct {
	Prompt      string `yaml:"prompt" validate:"required"`
	ActionLabel string `yaml:"actionLabel" validate:"required"`
}

type calculatorFieldYAML struct {
	Key     string  `yaml:"key" validate:"required"`
	Label   string  `yaml:"label" validate:"required"`
	Default float64 `yaml:"default"`
}

type calculatorYAML struct {
	Title          string                `yaml:"title" validate:"required"`
	Fields         []calculatorFieldYAML `yaml:"fields" validate:"required,min=1,dive"`
	ResultTemplate string                `yaml:"resultTemplate"`
}

// payload pairs a decode target with its conversion to the domain type.
type payload interface {
	toSection() content.Section
}

func (p introYAML) toSection() content.Section { return content.IntroSection{Text: p.Text} }
func (p headingYAML) toSection() content.Section {
	return content.HeadingSection{Title: p.Title, Subtitle: p.Subtitle}
}
func (p textYAML) toSection() content.Section { return content.TextSection{Text: p.Text} }
func (p listYAML) toSection() content.Section {
	return content.ListSection{Title: p.Title, Items: p.Items, Ordered: p.Ordered}
}
func (p quoteYAML) toSection() content.Section {
	return content.QuoteSection{Text: p.Text, Attribution: p.Attribution}
}
func (p calloutYAML) toSection() content.Section {
	tone := content.CalloutTone(p.Tone)
	if tone == "" {
		tone = content.CalloutToneInfo
	}
	return content.CalloutSection{Tone: tone, Title: p.Title, Text: p.Text}
}
func (p keyPointYAML) toSection() content.Section { return content.KeyPointSection{Text: p.Text} }
func (p exampleYAML) toSection() content.Section {
	return content.ExampleSection{Title: p.Title, Text: p.Text}
}
func (p definitionYAML) toSection() content.Section {
	return content.DefinitionSection{Term: p.Term, Meaning: p.Meaning}
}
func (p frameworkYAML) toSection() content.Section {
	steps := make([]content.FrameworkStep, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = content.FrameworkStep{Label: s.Label, Text: s.Text}
	}
	return content.FrameworkSection{Title: p.Title, Steps: steps}
}
func (p beforeAfterYAML) toSection() content.Section {
	return content.BeforeAfterSection{Before: p.Before, After: p.After}
}
func (p checkpointYAML) toSection() content.Section {
	opts := make([]content.Option, len(p.Options))
	for i, o := range p.Options {
		opts[i] = content.Option{Label: o.Label, IsCorrect: o.IsCorrect}
	}
	return content.CheckpointSection{Question: p.Question, Options: opts, SuccessMessage: p.SuccessMessage}
}
func (p revealCardYAML) toSection() content.Section {
	return content.RevealCardSection{Prompt: p.Prompt, Reveal: p.Reveal}
}
func (p microCommitmentYAML) toSection() content.Section {
	return content.MicroCommitmentSection{Prompt: p.Prompt, ActionLabel: p.ActionLabel}
}
func (p calculatorYAML) toSection() content.Section {
	fields := make([]content.CalculatorField, len(p.Fields))
	for i, f := range p.Fields {
		fields[i] = content.CalculatorField{Key: f.Key, Label: f.Label, Default: f.Default}
	}
	return content.CalculatorSection{Title: p.Title, Fields: fields, ResultTemplate: p.ResultTemplate}
}

// newPayload returns an empty decode target for a section kind.
func newPayload(kind content.Kind) (payload, error) {
	switch kind {
	case content.KindIntro:
		return &introYAML{}, nil
	case content.KindHeading:
		return &headingYAML{}, nil
	case content.KindText:
		return &textYAML{}, nil
	case content.KindList:
		return &listYAML{}, nil
	case content.KindQuote:
		return &quoteYAML{}, nil
	case content.KindCallout:
		return &calloutYAML{}, nil
	case content.KindKeyPoint:
		return &keyPointYAML{}, nil
	case content.KindExample:
		return &exampleYAML{}, nil
	case content.KindDefinition:
		return &definitionYAML{}, nil
	case content.KindFramework:
		return &frameworkYAML{}, nil
	case content.KindBeforeAfter:
		return &beforeAfterYAML{}, nil
	case content.KindCheckpoint:
		return &checkpointYAML{}, nil
	case content.KindRevealCard:
		return &revealCardYAML{}, nil
	case content.KindMicroCommitment:
		return &microCommitmentYAML{}, nil
	case content.KindCalculator:
		return &calculatorYAML{}, nil
	default:
		return nil, fmt.Errorf("unknown section type %q", kind)
	}
}
