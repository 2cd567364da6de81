package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewWritesWithoutTimestamp(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, logrus.InfoLevel)
	log.WithField("card", "c1").Info("updated")
	log.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, `msg=updated card=c1`) {
		t.Fatalf("unexpected output: %q", out)
	}
	if strings.Contains(out, "time=") || strings.Contains(out, "hidden") {
		t.Fatalf("expected no timestamp and no debug line, got %q", out)
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatalf("expected a usable logger for nil")
	}
	log := New(&bytes.Buffer{}, logrus.InfoLevel)
	if OrDiscard(log) != logrus.FieldLogger(log) {
		t.Fatalf("expected the given logger back")
	}
}
