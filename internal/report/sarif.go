package report

import (
	"encoding/json"
	"io"

	"github.com/vulnhuntr/vulnhuntr/internal/model"
	"github.com/vulnhuntr/vulnhuntr/internal/vulntype"
)

// SARIFRenderer emits findings as a SARIF 2.1.0 log, the format GitHub code
// scanning and most CI security dashboards ingest. This is built on
// encoding/json alone: SARIF's shape is narrow and stable enough that a
// dependency buys nothing a handful of structs don't already give us.
type SARIFRenderer struct{}

type sarifLog struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name  string      `json:"name"`
	Rules []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	ShortDescription sarifMessage         `json:"shortDescription"`
	Properties       map[string][]string  `json:"properties,omitempty"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine,omitempty"`
}

func (SARIFRenderer) Render(w io.Writer, findings []*model.Finding, summary Summary) error {
	rules := map[string]sarifRule{}
	results := make([]sarifResult, 0, len(findings))

	for _, f := range findings {
		if _, ok := rules[f.RuleID]; !ok {
			rules[f.RuleID] = sarifRule{
				ID:               f.RuleID,
				Name:             f.CWEName,
				ShortDescription: sarifMessage{Text: f.CWEName},
				Properties:       map[string][]string{"tags": {f.CWE, string(f.VulnType)}},
			}
		}
		results = append(results, sarifResult{
			RuleID:  f.RuleID,
			Level:   sarifLevel(f.Severity),
			Message: sarifMessage{Text: f.Analysis},
			Locations: []sarifLocation{{
				PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{URI: f.FilePath},
					Region:           sarifRegion{StartLine: f.Line},
				},
			}},
		})
	}

	ruleList := make([]sarifRule, 0, len(rules))
	for _, r := range rules {
		ruleList = append(ruleList, r)
	}

	doc := sarifLog{
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		Version: "2.1.0",
		Runs: []sarifRun{{
			Tool:    sarifTool{Driver: sarifDriver{Name: "vulnhuntr", Rules: ruleList}},
			Results: results,
		}},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func sarifLevel(sev vulntype.Severity) string {
	switch sev {
	case vulntype.SeverityCritical, vulntype.SeverityHigh:
		return "error"
	case vulntype.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}
