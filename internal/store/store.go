package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amirbrooks/tro/internal/logging"
	"github.com/amirbrooks/tro/internal/trello"
)

var ErrInvalid = errors.New("invalid")

const (
	boardFile = "board.json"
	listFile  = "list.json"
)

// Workspace is a directory-backed board service. It satisfies trello.Client.
//
// Layout:
//
//	boards/<board-slug>/board.json
//	boards/<board-slug>/lists/<list-slug>/list.json
//	boards/<board-slug>/lists/<list-slug>/cards/<id>__<slug>.md
type Workspace struct {
	Root string
	Log  logrus.FieldLogger

	mu sync.Mutex
}

var _ trello.Client = (*Workspace)(nil)

type boardMeta struct {
	Schema    int       `json:"schema"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Closed    bool      `json:"closed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type listMeta struct {
	Schema    int       `json:"schema"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Closed    bool      `json:"closed"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type cardMeta struct {
	Schema    int            `yaml:"schema"`
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Closed    bool           `yaml:"closed"`
	Position  int            `yaml:"position"`
	Labels    []trello.Label `yaml:"labels,omitempty"`
	CreatedAt *time.Time     `yaml:"created_at"`
	UpdatedAt *time.Time     `yaml:"updated_at"`
}

type boardEntry struct {
	dir  string
	meta boardMeta
}

type listEntry struct {
	dir     string
	boardID string
	meta    listMeta
}

type cardEntry struct {
	path    string
	listID  string
	boardID string
	meta    cardMeta
	desc    string
}

// Open opens the workspace rooted at root, creating the boards directory if needed.
func Open(root string) (*Workspace, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("%w: workspace root is required", ErrInvalid)
	}
	ws := &Workspace{Root: root}
	if err := os.MkdirAll(ws.boardsDir(), 0o755); err != nil {
		return nil, err
	}
	return ws, nil
}

func (w *Workspace) Boards(ctx context.Context, filter trello.Filter) ([]trello.Board, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := w.boards()
	if err != nil {
		return nil, err
	}
	out := []trello.Board{}
	for _, e := range entries {
		if !visible(e.meta.Closed, filter) {
			continue
		}
		out = append(out, e.toBoard())
	}
	return out, nil
}

func (w *Workspace) BoardLists(ctx context.Context, boardID string, filter trello.Filter) ([]trello.List, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := w.findBoard(boardID)
	if err != nil {
		return nil, err
	}
	return w.listsOf(b, filter)
}

func (w *Workspace) ListCards(ctx context.Context, listID string, filter trello.Filter) ([]trello.Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l, err := w.findList(listID)
	if err != nil {
		return nil, err
	}
	return w.cardsOf(l, filter)
}

func (w *Workspace) BoardNested(ctx context.Context, board trello.Board, filter trello.Filter) (trello.Board, error) {
	if err := ctx.Err(); err != nil {
		return board, err
	}
	b, err := w.findBoard(board.ID)
	if err != nil {
		return board, err
	}
	entries, err := w.lists(b)
	if err != nil {
		return board, err
	}
	lists := []trello.List{}
	for _, e := range entries {
		if !visible(e.meta.Closed, filter) {
			continue
		}
		cards, err := w.cardsOf(e, filter)
		if err != nil {
			return board, err
		}
		l := e.toList()
		l.Cards = trello.Loaded(cards)
		lists = append(lists, l)
	}
	out := b.toBoard()
	out.Lists = trello.Loaded(lists)
	return out, nil
}

func (w *Workspace) CreateBoard(ctx context.Context, name string) (trello.Board, error) {
	if err := ctx.Err(); err != nil {
		return trello.Board{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return trello.Board{}, fmt.Errorf("%w: board name is required", ErrInvalid)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := timeNow()
	e := boardEntry{
		dir: uniqueDir(w.boardsDir(), slugify(name)),
		meta: boardMeta{
			Schema:    1,
			ID:        "brd_" + newULID(),
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if err := os.MkdirAll(filepath.Join(e.dir, "lists"), 0o755); err != nil {
		return trello.Board{}, err
	}
	if err := writeJSON(filepath.Join(e.dir, boardFile), e.meta); err != nil {
		return trello.Board{}, err
	}
	w.logger().WithFields(logrus.Fields{"board": e.meta.ID, "dir": e.dir}).Debug("board created")
	return e.toBoard(), nil
}

func (w *Workspace) CreateList(ctx context.Context, boardID string, name string) (trello.List, error) {
	if err := ctx.Err(); err != nil {
		return trello.List{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return trello.List{}, fmt.Errorf("%w: list name is required", ErrInvalid)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	b, err := w.findBoard(boardID)
	if err != nil {
		return trello.List{}, err
	}
	existing, err := w.lists(b)
	if err != nil {
		return trello.List{}, err
	}
	pos := 1
	for _, l := range existing {
		if l.meta.Position >= pos {
			pos = l.meta.Position + 1
		}
	}
	now := timeNow()
	e := listEntry{
		dir:     uniqueDir(filepath.Join(b.dir, "lists"), slugify(name)),
		boardID: b.meta.ID,
		meta: listMeta{
			Schema:    1,
			ID:        "lst_" + newULID(),
			Name:      name,
			Position:  pos,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if err := os.MkdirAll(filepath.Join(e.dir, "cards"), 0o755); err != nil {
		return trello.List{}, err
	}
	if err := writeJSON(filepath.Join(e.dir, listFile), e.meta); err != nil {
		return trello.List{}, err
	}
	w.logger().WithFields(logrus.Fields{"list": e.meta.ID, "board": b.meta.ID}).Debug("list created")
	return e.toList(), nil
}

func (w *Workspace) CreateCard(ctx context.Context, listID string, in trello.CardInput) (trello.Card, error) {
	if err := ctx.Err(); err != nil {
		return trello.Card{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return trello.Card{}, fmt.Errorf("%w: card name is required", ErrInvalid)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	l, err := w.findList(listID)
	if err != nil {
		return trello.Card{}, err
	}
	existing, err := w.cards(l)
	if err != nil {
		return trello.Card{}, err
	}
	pos := 1
	for _, c := range existing {
		if c.meta.Position >= pos {
			pos = c.meta.Position + 1
		}
	}
	now := timeNow()
	id := "crd_" + newULID()
	e := cardEntry{
		path:    cardPath(l.dir, id, name),
		listID:  l.meta.ID,
		boardID: l.boardID,
		meta: cardMeta{
			Schema:    1,
			ID:        id,
			Name:      name,
			Position:  pos,
			CreatedAt: &now,
			UpdatedAt: &now,
		},
		desc: in.Desc,
	}
	if err := writeCardFile(e.path, &e.meta, e.desc); err != nil {
		return trello.Card{}, err
	}
	w.logger().WithFields(logrus.Fields{"card": id, "list": l.meta.ID}).Debug("card created")
	return e.toCard(), nil
}

func (w *Workspace) UpdateBoard(ctx context.Context, b trello.Board) (trello.Board, error) {
	if err := ctx.Err(); err != nil {
		return b, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	e, err := w.findBoard(b.ID)
	if err != nil {
		return b, err
	}
	if name := strings.TrimSpace(b.Name); name != "" {
		e.meta.Name = name
	}
	e.meta.Closed = b.Closed
	e.meta.UpdatedAt = timeNow()
	if err := writeJSON(filepath.Join(e.dir, boardFile), e.meta); err != nil {
		return b, err
	}
	return e.toBoard(), nil
}

func (w *Workspace) UpdateList(ctx context.Context, l trello.List) (trello.List, error) {
	if err := ctx.Err(); err != nil {
		return l, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	e, err := w.findList(l.ID)
	if err != nil {
		return l, err
	}
	if name := strings.TrimSpace(l.Name); name != "" {
		e.meta.Name = name
	}
	e.meta.Closed = l.Closed
	e.meta.UpdatedAt = timeNow()
	if err := writeJSON(filepath.Join(e.dir, listFile), e.meta); err != nil {
		return l, err
	}
	return e.toList(), nil
}

func (w *Workspace) UpdateCard(ctx context.Context, c trello.Card) (trello.Card, error) {
	if err := ctx.Err(); err != nil {
		return c, err
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return c, fmt.Errorf("%w: card name is required", ErrInvalid)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	e, err := w.findCard(c.ID)
	if err != nil {
		return c, err
	}
	now := timeNow()
	e.meta.Name = c.Name
	e.meta.Closed = c.Closed
	e.meta.UpdatedAt = &now
	e.desc = c.Desc

	oldPath := e.path
	e.path = cardPath(filepath.Dir(filepath.Dir(oldPath)), e.meta.ID, name)
	if err := writeCardFile(e.path, &e.meta, e.desc); err != nil {
		return c, err
	}
	if e.path != oldPath {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			return c, err
		}
	}
	return e.toCard(), nil
}

func (w *Workspace) boardsDir() string {
	return filepath.Join(w.Root, "boards")
}

func cardPath(listDir, id, name string) string {
	return filepath.Join(listDir, "cards", id+"__"+slugify(name)+".md")
}

func (w *Workspace) boards() ([]boardEntry, error) {
	dirs, err := os.ReadDir(w.boardsDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []boardEntry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(w.boardsDir(), d.Name())
		var meta boardMeta
		if err := readJSON(filepath.Join(dir, boardFile), &meta); err != nil {
			w.logger().WithError(err).WithField("dir", dir).Debug("skipping board directory")
			continue
		}
		out = append(out, boardEntry{dir: dir, meta: meta})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].meta.CreatedAt.Equal(out[j].meta.CreatedAt) {
			return out[i].meta.CreatedAt.Before(out[j].meta.CreatedAt)
		}
		return out[i].meta.ID < out[j].meta.ID
	})
	return out, nil
}

func (w *Workspace) lists(b boardEntry) ([]listEntry, error) {
	root := filepath.Join(b.dir, "lists")
	dirs, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []listEntry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(root, d.Name())
		var meta listMeta
		if err := readJSON(filepath.Join(dir, listFile), &meta); err != nil {
			w.logger().WithError(err).WithField("dir", dir).Debug("skipping list directory")
			continue
		}
		out = append(out, listEntry{dir: dir, boardID: b.meta.ID, meta: meta})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].meta.Position != out[j].meta.Position {
			return out[i].meta.Position < out[j].meta.Position
		}
		return out[i].meta.CreatedAt.Before(out[j].meta.CreatedAt)
	})
	return out, nil
}

func (w *Workspace) cards(l listEntry) ([]cardEntry, error) {
	paths, err := filepath.Glob(filepath.Join(l.dir, "cards", "*.md"))
	if err != nil {
		return nil, err
	}
	var out []cardEntry
	for _, p := range paths {
		meta, desc, err := readCardFile(p)
		if err != nil {
			w.logger().WithError(err).WithField("path", p).Debug("skipping card file")
			continue
		}
		out = append(out, cardEntry{path: p, listID: l.meta.ID, boardID: l.boardID, meta: *meta, desc: desc})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].meta.Position != out[j].meta.Position {
			return out[i].meta.Position < out[j].meta.Position
		}
		return createdBefore(out[i].meta.CreatedAt, out[j].meta.CreatedAt)
	})
	return out, nil
}

func createdBefore(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b != nil
	}
	return a.Before(*b)
}

func (w *Workspace) listsOf(b boardEntry, filter trello.Filter) ([]trello.List, error) {
	entries, err := w.lists(b)
	if err != nil {
		return nil, err
	}
	out := []trello.List{}
	for _, e := range entries {
		if !visible(e.meta.Closed, filter) {
			continue
		}
		out = append(out, e.toList())
	}
	return out, nil
}

func (w *Workspace) cardsOf(l listEntry, filter trello.Filter) ([]trello.Card, error) {
	entries, err := w.cards(l)
	if err != nil {
		return nil, err
	}
	out := []trello.Card{}
	for _, e := range entries {
		if !visible(e.meta.Closed, filter) {
			continue
		}
		out = append(out, e.toCard())
	}
	return out, nil
}

func visible(closed bool, filter trello.Filter) bool {
	return !closed || filter == trello.FilterAll
}

func (w *Workspace) findBoard(id string) (boardEntry, error) {
	id = strings.TrimSpace(id)
	if id != "" {
		entries, err := w.boards()
		if err != nil {
			return boardEntry{}, err
		}
		for _, e := range entries {
			if e.meta.ID == id {
				return e, nil
			}
		}
	}
	return boardEntry{}, fmt.Errorf("%w: board %q", trello.ErrNotFound, id)
}

func (w *Workspace) findList(id string) (listEntry, error) {
	id = strings.TrimSpace(id)
	if id != "" {
		boards, err := w.boards()
		if err != nil {
			return listEntry{}, err
		}
		for _, b := range boards {
			entries, err := w.lists(b)
			if err != nil {
				return listEntry{}, err
			}
			for _, e := range entries {
				if e.meta.ID == id {
					return e, nil
				}
			}
		}
	}
	return listEntry{}, fmt.Errorf("%w: list %q", trello.ErrNotFound, id)
}

func (w *Workspace) findCard(id string) (cardEntry, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, `/\*?[`) {
		return cardEntry{}, fmt.Errorf("%w: card %q", trello.ErrNotFound, id)
	}
	hits, err := filepath.Glob(filepath.Join(w.boardsDir(), "*", "lists", "*", "cards", id+"__*.md"))
	if err != nil {
		return cardEntry{}, err
	}
	if len(hits) == 0 {
		return cardEntry{}, fmt.Errorf("%w: card %q", trello.ErrNotFound, id)
	}
	path := hits[0]
	listDir := filepath.Dir(filepath.Dir(path))
	boardDir := filepath.Dir(filepath.Dir(listDir))
	var lm listMeta
	if err := readJSON(filepath.Join(listDir, listFile), &lm); err != nil {
		return cardEntry{}, err
	}
	var bm boardMeta
	if err := readJSON(filepath.Join(boardDir, boardFile), &bm); err != nil {
		return cardEntry{}, err
	}
	meta, desc, err := readCardFile(path)
	if err != nil {
		return cardEntry{}, err
	}
	return cardEntry{path: path, listID: lm.ID, boardID: bm.ID, meta: *meta, desc: desc}, nil
}

func (e boardEntry) toBoard() trello.Board {
	return trello.Board{ID: e.meta.ID, Name: e.meta.Name, Closed: e.meta.Closed, URL: fileURL(e.dir)}
}

func (e listEntry) toList() trello.List {
	return trello.List{ID: e.meta.ID, Name: e.meta.Name, Closed: e.meta.Closed, BoardID: e.boardID}
}

func (e cardEntry) toCard() trello.Card {
	labels := e.meta.Labels
	if labels == nil {
		labels = []trello.Label{}
	}
	return trello.Card{
		ID:      e.meta.ID,
		Name:    e.meta.Name,
		Desc:    e.desc,
		Closed:  e.meta.Closed,
		ListID:  e.listID,
		BoardID: e.boardID,
		Labels:  labels,
		URL:     fileURL(e.path),
	}
}

func fileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs)
}

func (w *Workspace) logger() logrus.FieldLogger {
	return logging.OrDiscard(w.Log)
}
