package find

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/amirbrooks/tro/internal/logging"
	"github.com/amirbrooks/tro/internal/trello"
)

// Wildcard in the list slot searches cards across every list of the board.
const Wildcard = "-"

// Strategy controls how nested collections are retrieved. Both strategies
// produce the same Result shape for the same Params.
type Strategy int

const (
	// PerLevel fetches one level at a time, and only the levels that were asked for.
	PerLevel Strategy = iota
	// Nested fetches the selected board with all lists and cards in one call.
	Nested
)

type Params struct {
	Board         string
	List          string
	Card          string
	IncludeClosed bool
}

// Result holds the objects traversed to reach the deepest resolved level.
// List is nil when a card was found through the wildcard.
type Result struct {
	Board *trello.Board
	List  *trello.List
	Card  *trello.Card
}

func (r Result) Empty() bool {
	return r.Board == nil && r.List == nil && r.Card == nil
}

type Resolver struct {
	Client     trello.Client
	IgnoreCase bool
	Strategy   Strategy
	Log        logrus.FieldLogger
}

func (r *Resolver) Resolve(ctx context.Context, p Params) (Result, error) {
	if p.Board == "" {
		return Result{}, nil
	}
	filter := trello.FilterOpen
	if p.IncludeClosed {
		filter = trello.FilterAll
	}
	log := r.logger().WithField("strategy", r.Strategy.String())

	boards, err := r.Client.Boards(ctx, filter)
	if err != nil {
		return Result{}, fmt.Errorf("fetch boards: %w", err)
	}
	board, err := Match(boards, p.Board, r.IgnoreCase)
	if err != nil {
		return Result{}, err
	}
	log.WithFields(logrus.Fields{"pattern": p.Board, "board": board.Name}).Debug("resolved board")

	if r.Strategy == Nested {
		nested, err := r.Client.BoardNested(ctx, board, filter)
		if err != nil {
			return Result{}, fmt.Errorf("fetch board %q: %w", board.Name, err)
		}
		board = nested
	}

	if p.List == Wildcard {
		if p.Card == "" {
			return Result{}, fmt.Errorf("%w: card name must be specified with list '%s' wildcard", ErrWildcardRequiresCard, Wildcard)
		}
		board, err = r.loadLists(ctx, board, filter)
		if err != nil {
			return Result{}, err
		}
		lists := board.Lists.Items()
		var cards []trello.Card
		for i := range lists {
			lists[i], err = r.loadCards(ctx, lists[i], filter)
			if err != nil {
				return Result{}, err
			}
			cards = append(cards, lists[i].Cards.Items()...)
		}
		board.Lists = trello.Loaded(lists)
		card, err := Match(cards, p.Card, r.IgnoreCase)
		if err != nil {
			return Result{}, err
		}
		log.WithFields(logrus.Fields{"pattern": p.Card, "card": card.Name, "lists": len(lists)}).Debug("resolved card across lists")
		return Result{Board: &board, Card: &card}, nil
	}

	if p.List == "" {
		return Result{Board: &board}, nil
	}

	board, err = r.loadLists(ctx, board, filter)
	if err != nil {
		return Result{}, err
	}
	list, err := Match(board.Lists.Items(), p.List, r.IgnoreCase)
	if err != nil {
		return Result{}, err
	}
	log.WithFields(logrus.Fields{"pattern": p.List, "list": list.Name}).Debug("resolved list")

	if p.Card == "" {
		return Result{Board: &board, List: &list}, nil
	}

	list, err = r.loadCards(ctx, list, filter)
	if err != nil {
		return Result{}, err
	}
	card, err := Match(list.Cards.Items(), p.Card, r.IgnoreCase)
	if err != nil {
		return Result{}, err
	}
	log.WithFields(logrus.Fields{"pattern": p.Card, "card": card.Name}).Debug("resolved card")
	return Result{Board: &board, List: &list, Card: &card}, nil
}

func (r *Resolver) loadLists(ctx context.Context, board trello.Board, filter trello.Filter) (trello.Board, error) {
	if board.Lists.IsLoaded() {
		return board, nil
	}
	lists, err := r.Client.BoardLists(ctx, board.ID, filter)
	if err != nil {
		return board, fmt.Errorf("fetch lists of %q: %w", board.Name, err)
	}
	board.Lists = trello.Loaded(lists)
	return board, nil
}

func (r *Resolver) loadCards(ctx context.Context, list trello.List, filter trello.Filter) (trello.List, error) {
	if list.Cards.IsLoaded() {
		return list, nil
	}
	cards, err := r.Client.ListCards(ctx, list.ID, filter)
	if err != nil {
		return list, fmt.Errorf("fetch cards of %q: %w", list.Name, err)
	}
	list.Cards = trello.Loaded(cards)
	return list, nil
}

func (r *Resolver) logger() logrus.FieldLogger {
	return logging.OrDiscard(r.Log)
}

func (s Strategy) String() string {
	switch s {
	case Nested:
		return "nested"
	default:
		return "per-level"
	}
}
