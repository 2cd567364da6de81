package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/amirbrooks/tro/internal/trello"
)

const nameWidth = 80

func renderBoards(w io.Writer, boards []trello.Board) {
	if len(boards) == 0 {
		fmt.Fprintln(w, "(no boards)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID")
	for _, b := range boards {
		fmt.Fprintf(tw, "%s%s\t%s\n", truncate(b.Name, nameWidth), closedSuffix(b.Closed), b.ID)
	}
	_ = tw.Flush()
}

func renderBoard(w io.Writer, b trello.Board) {
	fmt.Fprintf(w, "%s%s\n\n", b.Name, closedSuffix(b.Closed))
	if !b.Lists.IsLoaded() || len(b.Lists.Items()) == 0 {
		fmt.Fprintln(w, "(no lists)")
		return
	}
	for i, l := range b.Lists.Items() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		renderList(w, l)
	}
}

func renderList(w io.Writer, l trello.List) {
	fmt.Fprintf(w, "%s%s\n", l.Name, closedSuffix(l.Closed))
	if !l.Cards.IsLoaded() {
		return
	}
	cards := l.Cards.Items()
	if len(cards) == 0 {
		fmt.Fprintln(w, "  (no cards)")
		return
	}
	for _, c := range cards {
		fmt.Fprintf(w, "  - %s%s%s\n", truncate(c.Name, nameWidth), labelSuffix(c), closedSuffix(c.Closed))
	}
}

func renderCard(w io.Writer, c trello.Card) {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s%s\n", c.Name, closedSuffix(c.Closed)))
	if labels := c.LabelNames(); len(labels) > 0 {
		b.WriteString(fmt.Sprintf("Labels: %s\n", strings.Join(labels, ", ")))
	}
	if c.URL != "" {
		b.WriteString(fmt.Sprintf("URL: %s\n", c.URL))
	}
	if strings.TrimSpace(c.Desc) != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(c.Desc, "\n"))
		b.WriteString("\n")
	}
	fmt.Fprint(w, b.String())
}

func labelSuffix(c trello.Card) string {
	labels := c.LabelNames()
	if len(labels) == 0 {
		return ""
	}
	return " [" + strings.Join(labels, ", ") + "]"
}

func closedSuffix(closed bool) string {
	if closed {
		return " (closed)"
	}
	return ""
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
