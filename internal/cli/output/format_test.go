package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"table", FormatTable},
		{"", FormatTable},
		{"json", FormatJSON},
		{"JSON", FormatJSON},
		{"yaml", FormatYAML},
		{"yml", FormatYAML},
		{" yaml ", FormatYAML},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if err != nil {
			t.Errorf("ParseFormat(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) should fail")
	}
}

type sample struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

func TestPrinterJSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatJSON, false)
	if err := p.Print(sample{Name: "run-1", Count: 3}); err != nil {
		t.Fatalf("Print error: %v", err)
	}

	var back sample
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if back.Name != "run-1" || back.Count != 3 {
		t.Errorf("round trip = %+v", back)
	}
}

func TestPrinterYAML(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatYAML, false)
	if err := p.Print(sample{Name: "run-1", Count: 3}); err != nil {
		t.Fatalf("Print error: %v", err)
	}

	var back sample
	if err := yaml.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if back.Name != "run-1" || back.Count != 3 {
		t.Errorf("round trip = %+v", back)
	}
}

func TestPrinterTable(t *testing.T) {
	table := NewTableData("TEAM", "OPERATION")
	table.AddRow("Engineering", "share_record")
	table.AddRow("Ops", "apply_team_permission")

	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable, false)
	if err := p.Print(table); err != nil {
		t.Fatalf("Print error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"TEAM", "OPERATION", "Engineering", "apply_team_permission"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestKeyValueTable(t *testing.T) {
	var buf bytes.Buffer
	err := KeyValueTable(&buf, [][2]string{
		{"Run", "20260828-120000"},
		{"Status", "completed"},
	})
	if err != nil {
		t.Fatalf("KeyValueTable error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Run") || !strings.Contains(out, "20260828-120000") {
		t.Errorf("missing pair:\n%s", out)
	}
}

func TestPrinterColorMessages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable, true)
	p.Success("done")
	if !strings.Contains(buf.String(), "\033[32m") {
		t.Errorf("expected green escape: %q", buf.String())
	}

	buf.Reset()
	plain := NewPrinter(&buf, FormatTable, false)
	plain.Error("failed")
	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("unexpected escape without color: %q", buf.String())
	}
}
