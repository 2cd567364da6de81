package find

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/amirbrooks/tro/internal/trello"
)

var (
	ErrInvalidPattern       = errors.New("invalid pattern")
	ErrNotFound             = errors.New("not found")
	ErrAmbiguous            = errors.New("ambiguous")
	ErrWildcardRequiresCard = errors.New("wildcard requires card")
)

// NotFoundError reports a pattern that matched nothing.
// It still satisfies errors.Is(err, ErrNotFound).
type NotFoundError struct {
	Type    string
	Pattern string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found. Specify a more precise filter than '%s'", e.Type, e.Pattern)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// AmbiguousError reports a pattern that matched more than one object.
// Names lists every match in input order. It still satisfies errors.Is(err, ErrAmbiguous).
type AmbiguousError struct {
	Type    string
	Pattern string
	Names   []string
}

func (e *AmbiguousError) Error() string {
	quoted := make([]string, 0, len(e.Names))
	for _, n := range e.Names {
		quoted = append(quoted, "'"+n+"'")
	}
	return fmt.Sprintf("More than one %s found. Specify a more precise filter than '%s' (Found %s)",
		e.Type, e.Pattern, strings.Join(quoted, ", "))
}

func (e *AmbiguousError) Is(target error) bool {
	return target == ErrAmbiguous
}

// Compile builds the regular expression used to match names.
func Compile(pattern string, ignoreCase bool) (*regexp.Regexp, error) {
	expr := pattern
	if ignoreCase {
		expr = "(?i)" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	return re, nil
}

// Match returns the one object whose name matches pattern anywhere.
// Zero matches and multiple matches are both errors; ties are never broken.
func Match[T trello.Named](objects []T, pattern string, ignoreCase bool) (T, error) {
	var zero T
	re, err := Compile(pattern, ignoreCase)
	if err != nil {
		return zero, err
	}
	var matches []T
	for _, o := range objects {
		if re.MatchString(o.GetName()) {
			matches = append(matches, o)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return zero, &NotFoundError{Type: zero.TypeLabel(), Pattern: pattern}
	default:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.GetName())
		}
		return zero, &AmbiguousError{Type: zero.TypeLabel(), Pattern: pattern, Names: names}
	}
}
