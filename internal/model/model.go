// Package model defines the data types exchanged between the Analysis
// Engine and the LLM: the ContextCode request, the validated Response, and
// the persistable Finding derived from it.
package model

import (
	"fmt"
	"time"

	"github.com/vulnhuntr/vulnhuntr/internal/vulntype"
)

// ContextCode is a request the model emits when it needs to see another
// function's or class's source to continue its analysis.
type ContextCode struct {
	Name     string `json:"name"`
	Reason   string `json:"reason"`
	CodeLine string `json:"code_line"`
}

// ResolvedContext is an accumulated, resolved ContextCode entry fed back
// into the Phase 2 prompt. Source is empty when Symbol Index returned null.
type ResolvedContext struct {
	Name      string `json:"name"`
	Requested string `json:"requested"`
	FilePath  string `json:"file_path"`
	Source    string `json:"source"`
}

// Response is the model's validated structured output for one LLM turn.
type Response struct {
	Scratchpad         string           `json:"scratchpad"`
	Analysis           string           `json:"analysis"`
	PoC                *string          `json:"poc"`
	ConfidenceScore    int              `json:"confidence_score"`
	VulnerabilityTypes []vulntype.Type  `json:"vulnerability_types"`
	ContextCode        []ContextCode    `json:"context_code"`
}

// Validate checks a Response against the schema invariants: confidence in
// [0,10] and every vulnerability type a recognized member of the enum.
func (r *Response) Validate() error {
	if r.ConfidenceScore < 0 || r.ConfidenceScore > 10 {
		return fmt.Errorf("model: confidence_score %d out of range [0,10]", r.ConfidenceScore)
	}
	for _, vt := range r.VulnerabilityTypes {
		if !vt.Valid() {
			return fmt.Errorf("model: vulnerability_types contains unknown type %q", vt)
		}
	}
	return nil
}

// Finding is the enriched, persistable record derived from a Response once
// Phase 2 converges (or hits its iteration ceiling) for one vuln type.
type Finding struct {
	RuleID          string            `json:"rule_id"`
	Title           string            `json:"title"`
	FilePath        string            `json:"file_path"`
	Line            int               `json:"line"`   // 0 when unknown
	Column          int               `json:"column"` // 0 when unknown
	Description     string            `json:"description"`
	Analysis        string            `json:"analysis"`
	Scratchpad      string            `json:"scratchpad"`
	PoC             *string           `json:"poc"`
	Confidence      int               `json:"confidence"`
	Severity        vulntype.Severity `json:"severity"`
	VulnType        vulntype.Type     `json:"vuln_type"`
	CWE             string            `json:"cwe"`
	CWEName         string            `json:"cwe_name"`
	ContextExcerpt  []ResolvedContext `json:"context_excerpt"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	DiscoveredAt    time.Time         `json:"discovered_at"`
}

// ResponseToFinding converts a converged Response into a Finding for the
// given file and vuln type, deriving severity and CWE deterministically.
func ResponseToFinding(r *Response, filePath string, vt vulntype.Type, ctx []ResolvedContext) *Finding {
	return &Finding{
		RuleID:         fmt.Sprintf("vulnhuntr.%s", vt),
		Title:          fmt.Sprintf("%s in %s", vt.Name(), filePath),
		FilePath:       filePath,
		Description:    r.Analysis,
		Analysis:       r.Analysis,
		Scratchpad:     r.Scratchpad,
		PoC:            r.PoC,
		Confidence:     r.ConfidenceScore,
		Severity:       vulntype.DeriveSeverity(r.ConfidenceScore),
		VulnType:       vt,
		CWE:            vt.CWE(),
		CWEName:        vt.Name(),
		ContextExcerpt: ctx,
		DiscoveredAt:   time.Now().UTC(),
	}
}

// Validate checks the invariants a Finding must satisfy regardless of how
// it was constructed: confidence range, severity agreement, CWE agreement.
func (f *Finding) Validate() error {
	if f.Confidence < 0 || f.Confidence > 10 {
		return fmt.Errorf("model: finding confidence %d out of range [0,10]", f.Confidence)
	}
	if f.Severity != vulntype.DeriveSeverity(f.Confidence) {
		return fmt.Errorf("model: finding severity %q does not match derive_severity(%d)", f.Severity, f.Confidence)
	}
	if f.VulnType.Valid() && f.CWE != f.VulnType.CWE() {
		return fmt.Errorf("model: finding cwe %q does not match vuln_type %q (want %q)", f.CWE, f.VulnType, f.VulnType.CWE())
	}
	return nil
}
