package edit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/amirbrooks/tro/internal/document"
	"github.com/amirbrooks/tro/internal/logging"
	"github.com/amirbrooks/tro/internal/trello"
)

const (
	PlaceholderName = "Card title"
	PlaceholderDesc = "Card description"
)

// ErrCardNotCreated is returned by NewCard when the placeholder name was left in place.
var ErrCardNotCreated = errors.New("card not created")

// Editor hands text to the user and returns what they saved.
type Editor interface {
	Edit(ctx context.Context, content string) (string, error)
}

type EditorFunc func(ctx context.Context, content string) (string, error)

func (f EditorFunc) Edit(ctx context.Context, content string) (string, error) {
	return f(ctx, content)
}

type Session struct {
	Editor Editor
	Log    logrus.FieldLogger
}

// Card lets the user edit card and reports whether anything changed.
// On error the original card is returned and nothing should be sent upstream.
func (s *Session) Card(ctx context.Context, card trello.Card) (trello.Card, bool, error) {
	edited, err := s.Editor.Edit(ctx, document.Render(card))
	if err != nil {
		return card, false, fmt.Errorf("edit %q: %w", card.Name, err)
	}
	f, err := document.Parse(edited)
	if err != nil {
		return card, false, err
	}
	s.warnStray(f)

	// Trimming and line-ending normalization done by Parse are not edits.
	if f.Name == strings.TrimSpace(document.Normalize(card.Name)) {
		f.Name = card.Name
	}
	if f.Desc == strings.TrimRight(document.Normalize(card.Desc), "\n") {
		f.Desc = card.Desc
	}

	updated := f.Apply(card)
	if cmp.Equal(card, updated) {
		s.logger().WithField("card", card.ID).Debug("card unchanged")
		return updated, false, nil
	}
	s.logger().WithField("card", card.ID).Debugf("card changed (-old +new):\n%s", cmp.Diff(card, updated))
	return updated, true, nil
}

// NewCard collects name and description for a card that does not exist yet.
func (s *Session) NewCard(ctx context.Context) (trello.CardInput, error) {
	seed := trello.Card{Name: PlaceholderName, Desc: PlaceholderDesc}
	edited, err := s.Editor.Edit(ctx, document.Render(seed))
	if err != nil {
		return trello.CardInput{}, fmt.Errorf("edit new card: %w", err)
	}
	f, err := document.Parse(edited)
	if err != nil {
		return trello.CardInput{}, err
	}
	s.warnStray(f)
	if f.Name == PlaceholderName {
		return trello.CardInput{}, fmt.Errorf("%w: name was left as %q", ErrCardNotCreated, PlaceholderName)
	}
	if f.Desc == PlaceholderDesc {
		f.Desc = ""
	}
	return trello.CardInput{Name: f.Name, Desc: f.Desc}, nil
}

func (s *Session) warnStray(f document.Fields) {
	if len(f.Stray) == 0 {
		return
	}
	s.logger().WithFields(logrus.Fields{
		"lines":   len(f.Stray),
		"dropped": strings.Join(f.Stray, "\n"),
	}).Warn("ignoring lines between the card name and the blank line before the description; put a blank line after the name to keep them in the description")
}

func (s *Session) logger() logrus.FieldLogger {
	return logging.OrDiscard(s.Log)
}
