package trello

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("not found")

// Filter selects which objects a fetch returns.
type Filter string

const (
	FilterOpen Filter = "open"
	FilterAll  Filter = "all"
)

func (f Filter) String() string {
	if f == "" {
		return string(FilterOpen)
	}
	return string(f)
}

// Named is implemented by every object that can be selected by name.
type Named interface {
	GetName() string
	TypeLabel() string
}

// Nested is a child collection that only has meaning once it has been fetched.
// The zero value is NotLoaded, which is different from Loaded with no items.
type Nested[T any] struct {
	items  []T
	loaded bool
}

// Loaded returns a fetched collection. A nil slice becomes an empty, loaded collection.
func Loaded[T any](items []T) Nested[T] {
	if items == nil {
		items = []T{}
	}
	return Nested[T]{items: items, loaded: true}
}

func (n Nested[T]) IsLoaded() bool { return n.loaded }

// Items returns the fetched items. Reading a collection that was never fetched
// is a programming error: callers must fetch before they traverse.
func (n Nested[T]) Items() []T {
	if !n.loaded {
		var zero T
		panic(fmt.Sprintf("trello: %T collection read before it was fetched", zero))
	}
	return n.items
}

func (n Nested[T]) MarshalJSON() ([]byte, error) {
	if !n.loaded {
		return []byte("null"), nil
	}
	return json.Marshal(n.items)
}

func (n *Nested[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*n = Nested[T]{}
		return nil
	}
	var items []T
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*n = Loaded(items)
	return nil
}

type Board struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Closed bool         `json:"closed"`
	URL    string       `json:"url,omitempty"`
	Lists  Nested[List] `json:"lists"`
}

func (b Board) GetName() string   { return b.Name }
func (b Board) TypeLabel() string { return "Board" }

type List struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Closed  bool         `json:"closed"`
	BoardID string       `json:"idBoard"`
	Cards   Nested[Card] `json:"cards"`
}

func (l List) GetName() string   { return l.Name }
func (l List) TypeLabel() string { return "List" }

type Label struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color" yaml:"color"`
}

type Card struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Desc    string  `json:"desc"`
	Closed  bool    `json:"closed"`
	ListID  string  `json:"idList"`
	BoardID string  `json:"idBoard"`
	Labels  []Label `json:"labels"`
	URL     string  `json:"url,omitempty"`
}

func (c Card) GetName() string   { return c.Name }
func (c Card) TypeLabel() string { return "Card" }

// LabelNames returns the label names, falling back to the colour for unnamed labels.
func (c Card) LabelNames() []string {
	out := make([]string, 0, len(c.Labels))
	for _, l := range c.Labels {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			name = l.Color
		}
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

type CardInput struct {
	Name string
	Desc string
}

// Client is the gateway to a board service. Implementations hold no domain state.
type Client interface {
	Boards(ctx context.Context, filter Filter) ([]Board, error)
	BoardLists(ctx context.Context, boardID string, filter Filter) ([]List, error)
	ListCards(ctx context.Context, listID string, filter Filter) ([]Card, error)
	// BoardNested returns board with its lists and their cards populated in one retrieval.
	BoardNested(ctx context.Context, board Board, filter Filter) (Board, error)

	CreateBoard(ctx context.Context, name string) (Board, error)
	CreateList(ctx context.Context, boardID string, name string) (List, error)
	CreateCard(ctx context.Context, listID string, in CardInput) (Card, error)

	UpdateBoard(ctx context.Context, b Board) (Board, error)
	UpdateList(ctx context.Context, l List) (List, error)
	UpdateCard(ctx context.Context, c Card) (Card, error)
}

// AttachCards groups cards onto the lists they belong to, keeping list order
// and card order. Every returned list has its cards loaded.
func AttachCards(lists []List, cards []Card) []List {
	byList := map[string][]Card{}
	for _, c := range cards {
		byList[c.ListID] = append(byList[c.ListID], c)
	}
	out := make([]List, len(lists))
	for i, l := range lists {
		l.Cards = Loaded(byList[l.ID])
		out[i] = l
	}
	return out
}
