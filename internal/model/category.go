package model

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// CategoryType distinguishes what kind of content a category holds.
type CategoryType int

const (
	// CategoryFiles holds evidentiary files (the default).
	CategoryFiles CategoryType = iota
	// CategoryTools holds project-local tool scripts.
	CategoryTools
	// CategoryInbox holds unsorted staging files.
	CategoryInbox
)

func (t CategoryType) String() string {
	switch t {
	case CategoryFiles:
		return "files"
	case CategoryTools:
		return "tools"
	case CategoryInbox:
		return "inbox"
	}
	return fmt.Sprintf("category-type(%d)", int(t))
}

// ParseCategoryType converts the stored string form.
func ParseCategoryType(s string) (CategoryType, error) {
	switch s {
	case "files":
		return CategoryFiles, nil
	case "tools":
		return CategoryTools, nil
	case "inbox":
		return CategoryInbox, nil
	}
	return CategoryFiles, fmt.Errorf("unknown category type: %q", s)
}

// Category is a named glob pattern over relative paths. Its policy row
// (protection level) lives alongside it in the store.
type Category struct {
	ID          int64
	Name        string
	Pattern     string
	Type        CategoryType
	Description string
}

// Matches reports whether the category's glob pattern matches the path.
// Pattern syntax includes `**` for arbitrary nesting.
func (c *Category) Matches(relPath string) bool {
	ok, err := doublestar.Match(c.Pattern, relPath)
	if err != nil {
		return false
	}
	return ok
}

// NameFromPattern derives the category name from its pattern by stripping
// a trailing glob segment: "evidence/**" -> "evidence".
func NameFromPattern(pattern string) string {
	if s, ok := strings.CutSuffix(pattern, "/**"); ok {
		return s
	}
	if s, ok := strings.CutSuffix(pattern, "/*"); ok {
		return s
	}
	return pattern
}
