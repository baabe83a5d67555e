package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/vulnhuntr/vulnhuntr/internal/model"
	"github.com/vulnhuntr/vulnhuntr/internal/vulntype"
)

func sampleFindings() []*model.Finding {
	return []*model.Finding{
		{
			RuleID: "vulnhuntr.LFI", Title: "LFI in app.py", FilePath: "app.py", Line: 2,
			Analysis: "tainted path reaches open()", Confidence: 8,
			Severity: vulntype.SeverityHigh, VulnType: vulntype.LFI, CWE: "CWE-22", CWEName: "Local File Inclusion",
		},
	}
}

func TestJSONRendererProducesValidJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := (JSONRenderer{}).Render(&buf, sampleFindings(), Summary{TotalFiles: 1, TotalFindings: 1}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if doc["findings"] == nil {
		t.Fatal("expected findings key in JSON output")
	}
}

func TestMarkdownRendererIncludesFindingTitle(t *testing.T) {
	var buf bytes.Buffer
	if err := (MarkdownRenderer{}).Render(&buf, sampleFindings(), Summary{TotalFiles: 1, TotalFindings: 1}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "LFI in app.py") {
		t.Fatalf("output missing finding title: %s", buf.String())
	}
}

func TestSARIFRendererProducesOneRuleAndResult(t *testing.T) {
	var buf bytes.Buffer
	if err := (SARIFRenderer{}).Render(&buf, sampleFindings(), Summary{TotalFiles: 1, TotalFindings: 1}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	var doc sarifLog
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid SARIF JSON: %v", err)
	}
	if len(doc.Runs) != 1 || len(doc.Runs[0].Results) != 1 {
		t.Fatalf("expected 1 run with 1 result, got %+v", doc)
	}
	if doc.Runs[0].Results[0].Level != "error" {
		t.Errorf("Level = %q, want error for HIGH severity", doc.Runs[0].Results[0].Level)
	}
}

func TestHTMLRendererIncludesFindingTitle(t *testing.T) {
	var buf bytes.Buffer
	if err := (HTMLRenderer{}).Render(&buf, sampleFindings(), Summary{TotalFiles: 1, TotalFindings: 1}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "LFI in app.py") {
		t.Fatalf("output missing finding title: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "<table>") {
		t.Fatalf("output missing summary table: %s", buf.String())
	}
}

func TestHTMLRendererEscapesUntrustedContent(t *testing.T) {
	findings := sampleFindings()
	findings[0].Analysis = "<script>alert(1)</script>"
	var buf bytes.Buffer
	if err := (HTMLRenderer{}).Render(&buf, findings, Summary{TotalFiles: 1, TotalFindings: 1}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(buf.String(), "<script>alert(1)</script>") {
		t.Fatalf("analysis text was not escaped: %s", buf.String())
	}
}

func TestCSVRendererProducesOneRowPerFinding(t *testing.T) {
	var buf bytes.Buffer
	if err := (CSVRenderer{}).Render(&buf, sampleFindings(), Summary{TotalFiles: 1, TotalFindings: 1}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	r := csv.NewReader(&buf)
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 finding row, got %d rows", len(rows))
	}
	if rows[1][3] != "app.py" {
		t.Errorf("file_path column = %q, want app.py", rows[1][3])
	}
}
