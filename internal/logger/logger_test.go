package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	Info("run complete", "run_id", "20260828-120000", "succeeded", 12)

	out := buf.String()
	if !strings.Contains(out, "[INFO]") {
		t.Errorf("missing level tag: %q", out)
	}
	if !strings.Contains(out, "run complete") {
		t.Errorf("missing message: %q", out)
	}
	if !strings.Contains(out, "run_id=20260828-120000") {
		t.Errorf("missing attribute: %q", out)
	}
	if !strings.Contains(out, "succeeded=12") {
		t.Errorf("missing numeric attribute: %q", out)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")

	Warn("retrying operation", "operation", "share_record", "attempt", 2)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "retrying operation" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v", entry["level"])
	}
	if entry["operation"] != "share_record" {
		t.Errorf("operation = %v", entry["operation"])
	}
	if entry["attempt"] != float64(2) {
		t.Errorf("attempt = %v", entry["attempt"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")

	Debug("hidden debug")
	Info("hidden info")
	Warn("visible warning")
	Error("visible error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("suppressed levels leaked: %q", out)
	}
	if !strings.Contains(out, "visible warning") || !strings.Contains(out, "visible error") {
		t.Errorf("missing output: %q", out)
	}
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	SetLevel("NOISY")
	Info("still here")
	if !strings.Contains(buf.String(), "still here") {
		t.Errorf("invalid level changed filtering: %q", buf.String())
	}
}

func TestWithBindsAttributes(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	log := With(KeyRunID, "run-1", KeyTeamUID, "T-ENG")
	log.Info("starting team")

	out := buf.String()
	if !strings.Contains(out, "run_id=run-1") {
		t.Errorf("bound attribute missing: %q", out)
	}
	if !strings.Contains(out, "team_uid=T-ENG") {
		t.Errorf("bound attribute missing: %q", out)
	}
}
