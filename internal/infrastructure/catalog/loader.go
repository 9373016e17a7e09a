// Package catalog loads the versioned content catalog from YAML files.
//
// Layout:
//
//	<dir>/catalog.yaml      version + ordered list of item files
//	<dir>/<item>.yaml       one lesson or chapter with its sections
//
// Sections are a tagged union keyed by "type". Payloads are validated with
// go-playground/validator; a section with a missing text field is kept (the
// field is skipped when rendering), a structurally broken or unknown section
// is dropped with a warning. A broken item file fails the whole load.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/stepwise-hub/stepwise/internal/domain/content"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/metrics"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

// ManifestFile is the catalog root file name.
const ManifestFile = "catalog.yaml"

// maxParallelFiles bounds concurrent item file reads.
const maxParallelFiles = 8

// ══════════════════════════════════════════════════════════════════════════════
// REPORT
// ══════════════════════════════════════════════════════════════════════════════

// Issue is one problem found while loading.
type Issue struct {
	File    string
	Section int
	Message string
	Dropped bool
}

func (i Issue) String() string {
	action := "kept"
	if i.Dropped {
		action = "dropped"
	}
	return fmt.Sprintf("%s: section %d (%s): %s", i.File, i.Section, action, i.Message)
}

// Report summarises a load.
type Report struct {
	Version  string
	Items    int
	Sections int
	Issues   []Issue
}

// Dropped returns the number of dropped sections.
func (r Report) Dropped() int {
	n := 0
	for _, i := range r.Issues {
		if i.Dropped {
			n++
		}
	}
	return n
}

// ══════════════════════════════════════════════════════════════════════════════
// LOADER
// ══════════════════════════════════════════════════════════════════════════════

// Loader reads a catalog directory.
type Loader struct {
	dir      string
	log      *logger.Logger
	validate *validator.Validate
}

// NewLoader creates a Loader for dir.
func NewLoader(dir string, log *logger.Logger) *Loader {
	if log == nil {
		log = logger.Nop()
	}
	return &Loader{
		dir:      dir,
		log:      log.With(logger.Component("catalog")),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Load reads the manifest and every item file. Items keep manifest order.
func (l *Loader) Load(ctx context.Context) (*content.Catalog, Report, error) {
	var report Report

	var m manifestYAML
	manifestPath := filepath.Join(l.dir, ManifestFile)
	if err := readYAML(manifestPath, &m); err != nil {
		return nil, report, err
	}
	if err := l.validate.Struct(m); err != nil {
		return nil, report, fmt.Errorf("%s: %w: %v", manifestPath, shared.ErrMalformedContent, err)
	}
	report.Version = m.Version

	items := make([]*content.Item, len(m.Items))
	var (
		mu     sync.Mutex
		issues []Issue
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFiles)
	for i, rel := range m.Items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item, found, err := l.loadItem(rel, m.Version)
			if err != nil {
				return err
			}
			items[i] = item

			mu.Lock()
			issues = append(issues, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, report, err
	}

	cat := content.NewCatalog(m.Version, items...)
	if cat.Len() != len(items) {
		return nil, report, fmt.Errorf("%s: %w: duplicate item id", manifestPath, shared.ErrMalformedContent)
	}

	report.Items = cat.Len()
	for _, it := range items {
		report.Sections += it.SectionCount()
	}
	report.Issues = issues

	l.log.Info("catalog loaded",
		logger.CatalogVersion(m.Version),
		logger.Int("items", report.Items),
		logger.Int("sections", report.Sections),
		logger.Int("dropped", report.Dropped()))
	return cat, report, nil
}

func (l *Loader) loadItem(rel, version string) (*content.Item, []Issue, error) {
	if !filepath.IsLocal(rel) {
		return nil, nil, fmt.Errorf("%s: %w: item path escapes catalog dir", rel, shared.ErrMalformedContent)
	}
	path := filepath.Join(l.dir, rel)

	var raw itemYAML
	if err := readYAML(path, &raw); err != nil {
		return nil, nil, err
	}
	if err := l.validate.Struct(raw); err != nil {
		return nil, nil, fmt.Errorf("%s: %w: %v", rel, shared.ErrMalformedContent, err)
	}

	var (
		sections []content.Section
		issues   []Issue
	)
	for i := range raw.Sections {
		s, issue := l.decodeSection(&raw.Sections[i])
		if issue != nil {
			issue.File = rel
			issue.Section = i
			issues = append(issues, *issue)
			l.log.Warn("malformed catalog section",
				logger.String("file", rel),
				logger.SectionIndex(i),
				logger.Bool("dropped", issue.Dropped),
				logger.String("reason", issue.Message))
		}
		if s == nil {
			metrics.CatalogSections.WithLabelValues("dropped").Inc()
			continue
		}
		metrics.CatalogSections.WithLabelValues("loaded").Inc()
		sections = append(sections, s)
	}

	item, err := content.NewItem(content.NewItemParams{
		ID:       raw.ID,
		Kind:     content.ItemKind(raw.Kind),
		Title:    raw.Title,
		Version:  version,
		Sections: sections,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", rel, err)
	}
	return item, issues, nil
}

// decodeSection returns the section (nil if dropped) and an issue if the
// node was not clean.
func (l *Loader) decodeSection(node *yaml.Node) (content.Section, *Issue) {
	var head sectionHeader
	if err := node.Decode(&head); err != nil {
		return nil, &Issue{Message: err.Error(), Dropped: true}
	}

	p, err := newPayload(content.Kind(head.Type))
	if err != nil {
		return nil, &Issue{Message: err.Error(), Dropped: true}
	}
	if err := node.Decode(p); err != nil {
		return nil, &Issue{Message: err.Error(), Dropped: true}
	}

	err = l.validate.Struct(p)
	if err == nil {
		return p.toSection(), nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, &Issue{Message: err.Error(), Dropped: true}
	}

	msgs := make([]string, 0, len(verrs))
	soft := true
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		if !(fe.Tag() == "required" && fe.Kind() == reflect.String) {
			soft = false
		}
	}
	issue := &Issue{Message: head.Type + ": " + strings.Join(msgs, ", "), Dropped: !soft}
	if !soft {
		return nil, issue
	}
	return p.toSection(), issue
}

func readYAML(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%s: %w: %v", path, shared.ErrMalformedContent, err)
	}
	return nil
}
