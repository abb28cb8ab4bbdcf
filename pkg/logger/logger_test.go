package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewDefaultWritesComponentField(t *testing.T) {
	log := NewDefault("unit")
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithField("key", "value").Info("hello")

	out := buf.String()
	if !strings.Contains(out, "component=unit") {
		t.Fatalf("expected component field, got %q", out)
	}
	if !strings.Contains(out, "key=value") {
		t.Fatalf("expected custom field, got %q", out)
	}
}

func TestNewJSONFormat(t *testing.T) {
	log := New(LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.Infof("count %d", 3)

	if !strings.Contains(buf.String(), `"msg":"count 3"`) {
		t.Fatalf("expected json output, got %q", buf.String())
	}
}
