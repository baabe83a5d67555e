// Package report renders a WorkflowResult's findings into the output
// formats a CI pipeline or a human reviewer consumes.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/vulnhuntr/vulnhuntr/internal/model"
)

// Renderer writes findings plus summary counts to w in one specific format.
type Renderer interface {
	Render(w io.Writer, findings []*model.Finding, summary Summary) error
}

// Summary mirrors engine.Summary without importing the engine package, so
// report stays a leaf dependency.
type Summary struct {
	TotalFiles    int
	TotalFindings int
	ByVulnType    map[string]int
	ByConfidence  map[int]int
}

// JSONRenderer renders the full finding list and summary as one JSON document.
type JSONRenderer struct {
	Indent bool
}

type jsonDoc struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Summary     Summary           `json:"summary"`
	Findings    []*model.Finding  `json:"findings"`
}

func (r JSONRenderer) Render(w io.Writer, findings []*model.Finding, summary Summary) error {
	doc := jsonDoc{GeneratedAt: time.Now().UTC(), Summary: summary, Findings: findings}
	enc := json.NewEncoder(w)
	if r.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(doc)
}

// MarkdownRenderer renders a human-readable findings table.
type MarkdownRenderer struct{}

func (MarkdownRenderer) Render(w io.Writer, findings []*model.Finding, summary Summary) error {
	fmt.Fprintf(w, "# Vulnerability Scan Report\n\n")
	fmt.Fprintf(w, "Files scanned: %d · Findings: %d\n\n", summary.TotalFiles, summary.TotalFindings)
	if len(findings) == 0 {
		fmt.Fprintf(w, "No findings at or above the configured confidence threshold.\n")
		return nil
	}
	fmt.Fprintf(w, "| Severity | Type | CWE | File | Confidence |\n")
	fmt.Fprintf(w, "|---|---|---|---|---|\n")
	for _, f := range findings {
		fmt.Fprintf(w, "| %s | %s | %s | %s | %d |\n", f.Severity, f.VulnType, f.CWE, f.FilePath, f.Confidence)
	}
	fmt.Fprintf(w, "\n")
	for _, f := range findings {
		fmt.Fprintf(w, "## %s (%s)\n\n%s\n\n", f.Title, f.Severity, f.Analysis)
		if f.PoC != nil {
			fmt.Fprintf(w, "**Proof of concept:** `%s`\n\n", *f.PoC)
		}
	}
	return nil
}
