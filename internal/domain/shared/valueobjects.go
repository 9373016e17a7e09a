package shared

import (
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// ContentID identifies a lesson or a library chapter inside the catalog.
type ContentID string

// Slug-like identifiers: lowercase letters, digits, dashes, underscores, dots.
var contentIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,127}$`)

// IsValid checks if the content ID has the catalog slug format.
func (c ContentID) IsValid() bool {
	return contentIDRegex.MatchString(string(c))
}

// String returns the string representation.
func (c ContentID) String() string {
	return string(c)
}

// NewContentID creates a new ContentID with validation.
func NewContentID(raw string) (ContentID, error) {
	id := ContentID(strings.ToLower(strings.TrimSpace(raw)))
	if !id.IsValid() {
		return "", ErrInvalidContentID
	}
	return id, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Namespace
// ═══════════════════════════════════════════════════════════════════════════

// Namespace separates progress records of different readers that share the
// same engine. Lessons and library chapters never share a cache key.
type Namespace string

const (
	// NamespaceLessons is the course/lesson viewer.
	NamespaceLessons Namespace = "lessons"
	// NamespaceLibrary is the ebook library reader.
	NamespaceLibrary Namespace = "library"
)

// AllNamespaces returns every known namespace.
func AllNamespaces() []Namespace {
	return []Namespace{NamespaceLessons, NamespaceLibrary}
}

// IsValid checks if the namespace is known.
func (n Namespace) IsValid() bool {
	switch n {
	case NamespaceLessons, NamespaceLibrary:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (n Namespace) String() string {
	return string(n)
}

// ParseNamespace parses a namespace from a URL segment or config value.
func ParseNamespace(raw string) (Namespace, error) {
	ns := Namespace(strings.ToLower(strings.TrimSpace(raw)))
	if !ns.IsValid() {
		return "", ErrInvalidNamespace
	}
	return ns, nil
}
