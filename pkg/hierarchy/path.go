package hierarchy

import (
	"fmt"
	"strings"
)

// Paths are ltree-style materialized ancestor chains: dot-separated slug
// labels such as "acme.cardiology.ward_3". A path is assigned when the row
// is created and never rewritten afterwards, so containment checks are
// plain prefix tests and cycles are impossible by construction.

const separator = "."

// Join appends a label to a parent path. An empty parent produces a root path.
func Join(parentPath, label string) string {
	if parentPath == "" {
		return label
	}
	return parentPath + separator + label
}

// Parent returns the parent path, or "" for a root path.
func Parent(path string) string {
	idx := strings.LastIndex(path, separator)
	if idx == -1 {
		return ""
	}
	return path[:idx]
}

// Depth returns the number of labels in the path. The empty path has depth 0.
func Depth(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, separator) + 1
}

// Labels splits a path into its labels.
func Labels(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, separator)
}

// Contains reports whether scope equals path or is an ancestor of it.
// An empty scope contains everything.
func Contains(scope, path string) bool {
	if scope == "" {
		return true
	}
	if scope == path {
		return true
	}
	return strings.HasPrefix(path, scope+separator)
}

// IsAncestor reports whether ancestor is a strict ancestor of path.
func IsAncestor(ancestor, path string) bool {
	return ancestor != path && Contains(ancestor, path)
}

// IsDirectChild reports whether child sits immediately below parent.
func IsDirectChild(child, parent string) bool {
	return Parent(child) == parent && child != parent
}

// ValidateLabel checks a single slug label: non-empty, lowercase
// alphanumeric and underscores only. ltree rejects anything else.
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("label cannot be empty")
	}
	for _, r := range label {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '_' {
			continue
		}
		return fmt.Errorf("label %q contains invalid character %q", label, r)
	}
	return nil
}

// Validate checks every label of a path.
func Validate(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	for i, label := range Labels(path) {
		if err := ValidateLabel(label); err != nil {
			return fmt.Errorf("path %q label %d: %w", path, i, err)
		}
	}
	return nil
}

// Slugify normalizes free-form text into a valid path label.
func Slugify(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	var b strings.Builder
	lastUnderscore := true
	for _, r := range value {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
