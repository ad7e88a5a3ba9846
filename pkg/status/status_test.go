package status

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsoleSinkStatusAndError(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleWriter(&buf)

	sink.Status("fetched %s", "requests")
	sink.Error("could not resolve %s", "flask")

	out := buf.String()
	if !strings.Contains(out, "status:") || !strings.Contains(out, "fetched requests") {
		t.Errorf("missing status line in output: %q", out)
	}
	if !strings.Contains(out, "error:") || !strings.Contains(out, "could not resolve flask") {
		t.Errorf("missing error line in output: %q", out)
	}
}

func TestNullSinkDiscardsSilently(t *testing.T) {
	var s Sink = NullSink{}
	s.Status("anything %d", 1)
	s.Error("anything %d", 2)
}
