package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("tight")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("encoded frame", "tiles", 4)

	out := buf.String()
	if strings.Contains(out, `msg="INFO encoded frame`) {
		t.Fatalf("unexpected nested severity prefix in message: %s", out)
	}
	if !strings.Contains(out, "msg=\"encoded frame\"") {
		t.Fatalf("expected plain message, got: %s", out)
	}
	if !strings.Contains(out, "component=tight") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "tiles=4") {
		t.Fatalf("expected tiles field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("h264")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "info", &buf)

	L("damage").Info("refined", "rects", 2)

	out := buf.String()
	if !strings.Contains(out, `"component":"damage"`) {
		t.Fatalf("expected json component field, got: %s", out)
	}
}
