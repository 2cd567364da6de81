// Package document converts a card to the plain-text form handed to an editor
// and back. The format is the card name on the first line, a blank line, then
// the description verbatim.
package document

import (
	"errors"
	"fmt"
	"strings"

	"github.com/amirbrooks/tro/internal/trello"
)

var ErrMalformed = errors.New("malformed document")

// Fields are the parts of a card the document carries.
type Fields struct {
	Name string
	Desc string
	// Stray holds lines found between the name and the first blank line.
	// They belong to neither field and are dropped.
	Stray []string
}

// Apply returns card with its name and description replaced. Identity fields
// (id, labels, list and board ids, closed) come from card unchanged.
func (f Fields) Apply(card trello.Card) trello.Card {
	card.Name = f.Name
	card.Desc = f.Desc
	return card
}

func Render(card trello.Card) string {
	return card.Name + "\n\n" + card.Desc
}

// Normalize converts CRLF and lone CR line endings to LF.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func Parse(text string) (Fields, error) {
	s := strings.TrimRight(Normalize(text), "\n")
	if strings.TrimSpace(s) == "" {
		return Fields{}, fmt.Errorf("%w: document is empty", ErrMalformed)
	}
	lines := strings.Split(s, "\n")
	name := strings.TrimSpace(lines[0])
	if name == "" {
		return Fields{}, fmt.Errorf("%w: first line must hold the card name", ErrMalformed)
	}

	f := Fields{Name: name}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			f.Desc = strings.Join(lines[i+1:], "\n")
			return f, nil
		}
		f.Stray = append(f.Stray, lines[i])
	}
	return f, nil
}
