package trello

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/amirbrooks/tro/internal/logging"
)

const DefaultHost = "https://api.trello.com"

// APIError is returned for any non-2xx response.
type APIError struct {
	Status int
	Method string
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("trello: %s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("trello: %s %s: %d %s", e.Method, e.Path, e.Status, body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// HTTPClient talks to the Trello REST API. Authentication uses the key and
// token query parameters.
type HTTPClient struct {
	host  string
	key   string
	token string
	http  *http.Client
	log   logrus.FieldLogger
}

type Option func(*HTTPClient)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *HTTPClient) {
		if l != nil {
			c.log = l
		}
	}
}

func NewHTTPClient(host, key, token string, opts ...Option) *HTTPClient {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		host = DefaultHost
	}
	c := &HTTPClient{
		host:  host,
		key:   key,
		token: token,
		http:  &http.Client{},
		log:   logging.Discard(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *HTTPClient) Boards(ctx context.Context, filter Filter) ([]Board, error) {
	var out []Board
	q := url.Values{"filter": {filter.String()}}
	if err := c.do(ctx, http.MethodGet, "/1/members/me/boards", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) BoardLists(ctx context.Context, boardID string, filter Filter) ([]List, error) {
	var out []List
	q := url.Values{"filter": {filter.String()}}
	if err := c.do(ctx, http.MethodGet, "/1/boards/"+url.PathEscape(boardID)+"/lists", q, nil, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].BoardID == "" {
			out[i].BoardID = boardID
		}
	}
	return out, nil
}

func (c *HTTPClient) ListCards(ctx context.Context, listID string, filter Filter) ([]Card, error) {
	var out []Card
	q := url.Values{"filter": {filter.String()}}
	if err := c.do(ctx, http.MethodGet, "/1/lists/"+url.PathEscape(listID)+"/cards", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// nestedBoard is the shape of /1/boards/{id}?lists=..&cards=..: cards come
// back flat next to the lists.
type nestedBoard struct {
	Board
	Cards []Card `json:"cards"`
}

func (c *HTTPClient) BoardNested(ctx context.Context, board Board, filter Filter) (Board, error) {
	var payload nestedBoard
	q := url.Values{
		"lists": {filter.String()},
		"cards": {filter.String()},
	}
	if err := c.do(ctx, http.MethodGet, "/1/boards/"+url.PathEscape(board.ID), q, nil, &payload); err != nil {
		return Board{}, err
	}
	out := payload.Board
	var lists []List
	if out.Lists.IsLoaded() {
		lists = out.Lists.Items()
	}
	for i := range lists {
		if lists[i].BoardID == "" {
			lists[i].BoardID = out.ID
		}
	}
	out.Lists = Loaded(AttachCards(lists, payload.Cards))
	return out, nil
}

func (c *HTTPClient) CreateBoard(ctx context.Context, name string) (Board, error) {
	var out Board
	body := map[string]any{"name": name}
	if err := c.do(ctx, http.MethodPost, "/1/boards", nil, body, &out); err != nil {
		return Board{}, err
	}
	return out, nil
}

func (c *HTTPClient) CreateList(ctx context.Context, boardID string, name string) (List, error) {
	var out List
	body := map[string]any{"name": name, "idBoard": boardID, "pos": "bottom"}
	if err := c.do(ctx, http.MethodPost, "/1/lists", nil, body, &out); err != nil {
		return List{}, err
	}
	return out, nil
}

func (c *HTTPClient) CreateCard(ctx context.Context, listID string, in CardInput) (Card, error) {
	var out Card
	body := map[string]any{"name": in.Name, "desc": in.Desc, "idList": listID, "pos": "bottom"}
	if err := c.do(ctx, http.MethodPost, "/1/cards", nil, body, &out); err != nil {
		return Card{}, err
	}
	return out, nil
}

func (c *HTTPClient) UpdateBoard(ctx context.Context, b Board) (Board, error) {
	var out Board
	body := map[string]any{"name": b.Name, "closed": b.Closed}
	if err := c.do(ctx, http.MethodPut, "/1/boards/"+url.PathEscape(b.ID), nil, body, &out); err != nil {
		return Board{}, err
	}
	return out, nil
}

func (c *HTTPClient) UpdateList(ctx context.Context, l List) (List, error) {
	var out List
	body := map[string]any{"name": l.Name, "closed": l.Closed}
	if err := c.do(ctx, http.MethodPut, "/1/lists/"+url.PathEscape(l.ID), nil, body, &out); err != nil {
		return List{}, err
	}
	return out, nil
}

func (c *HTTPClient) UpdateCard(ctx context.Context, card Card) (Card, error) {
	var out Card
	body := map[string]any{"name": card.Name, "desc": card.Desc, "closed": card.Closed}
	if err := c.do(ctx, http.MethodPut, "/1/cards/"+url.PathEscape(card.ID), nil, body, &out); err != nil {
		return Card{}, err
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("key", c.key)
	q.Set("token", c.token)
	endpoint := c.host + path + "?" + q.Encode()

	var reader io.Reader
	if body != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return err
		}
		reader = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.log.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	}).Debug("trello request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Method: method, Path: path, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("trello: decode %s %s: %w", method, path, err)
	}
	return nil
}
