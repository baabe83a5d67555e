package report

import (
	"fmt"
	"html"
	"io"

	"github.com/vulnhuntr/vulnhuntr/internal/model"
)

// HTMLRenderer renders findings as a single self-contained HTML page, for
// attaching to a CI artifact or opening directly in a browser.
type HTMLRenderer struct{}

const htmlHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>vulnhuntr report</title>
<style>
body { font-family: sans-serif; margin: 2rem; color: #222; }
table { border-collapse: collapse; width: 100%%; margin-bottom: 2rem; }
th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; }
th { background: #f2f2f2; }
.sev-CRITICAL, .sev-HIGH { color: #b00020; }
.sev-MEDIUM { color: #a86a00; }
.finding { border-top: 1px solid #ccc; padding-top: 1rem; margin-top: 1rem; }
code { background: #f5f5f5; padding: 0.1rem 0.3rem; }
</style>
</head>
<body>
<h1>Vulnerability Scan Report</h1>
<p>Files scanned: %d &middot; Findings: %d</p>
`

func (HTMLRenderer) Render(w io.Writer, findings []*model.Finding, summary Summary) error {
	fmt.Fprintf(w, htmlHead, summary.TotalFiles, summary.TotalFindings)

	if len(findings) == 0 {
		fmt.Fprintln(w, "<p>No findings at or above the configured confidence threshold.</p>")
		fmt.Fprintln(w, "</body></html>")
		return nil
	}

	fmt.Fprintln(w, "<table>")
	fmt.Fprintln(w, "<tr><th>Severity</th><th>Type</th><th>CWE</th><th>File</th><th>Confidence</th></tr>")
	for _, f := range findings {
		fmt.Fprintf(w, "<tr><td class=\"sev-%s\">%s</td><td>%s</td><td>%s</td><td>%s</td><td>%d</td></tr>\n",
			html.EscapeString(string(f.Severity)), html.EscapeString(string(f.Severity)),
			html.EscapeString(string(f.VulnType)), html.EscapeString(f.CWE),
			html.EscapeString(f.FilePath), f.Confidence)
	}
	fmt.Fprintln(w, "</table>")

	for _, f := range findings {
		fmt.Fprintf(w, "<div class=\"finding\"><h2>%s (%s)</h2><p>%s</p>\n",
			html.EscapeString(f.Title), html.EscapeString(string(f.Severity)), html.EscapeString(f.Analysis))
		if f.PoC != nil {
			fmt.Fprintf(w, "<p><strong>Proof of concept:</strong> <code>%s</code></p>\n", html.EscapeString(*f.PoC))
		}
		fmt.Fprintln(w, "</div>")
	}

	fmt.Fprintln(w, "</body></html>")
	return nil
}
