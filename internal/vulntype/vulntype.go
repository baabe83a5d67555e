// Package vulntype defines the closed set of vulnerability categories the
// engine reasons about, their CWE mapping, and severity derivation from a
// model's confidence score.
package vulntype

import "fmt"

// Type is one of the seven vulnerability categories the engine routes on.
// It is a closed enum — there is no extension point, matching the model's
// fixed response schema.
type Type string

const (
	LFI  Type = "LFI"
	RCE  Type = "RCE"
	SSRF Type = "SSRF"
	AFO  Type = "AFO"
	SQLI Type = "SQLI"
	XSS  Type = "XSS"
	IDOR Type = "IDOR"
)

// All lists every member of the enum in a stable order.
func All() []Type {
	return []Type{LFI, RCE, SSRF, AFO, SQLI, XSS, IDOR}
}

// info bundles the fixed CWE identifier and human name for a vuln type.
type info struct {
	cwe  string
	name string
}

var registry = map[Type]info{
	LFI:  {cwe: "CWE-22", name: "Local File Inclusion"},
	RCE:  {cwe: "CWE-78", name: "Remote Code Execution"},
	SSRF: {cwe: "CWE-918", name: "Server-Side Request Forgery"},
	AFO:  {cwe: "CWE-73", name: "Arbitrary File Operation"},
	SQLI: {cwe: "CWE-89", name: "SQL Injection"},
	XSS:  {cwe: "CWE-79", name: "Cross-Site Scripting"},
	IDOR: {cwe: "CWE-639", name: "Insecure Direct Object Reference"},
}

// Valid reports whether t is a recognized member of the enum.
func (t Type) Valid() bool {
	_, ok := registry[t]
	return ok
}

// CWE returns the fixed CWE identifier for t, or an empty string if t is unknown.
func (t Type) CWE() string {
	return registry[t].cwe
}

// Name returns the human-readable name for t.
func (t Type) Name() string {
	return registry[t].name
}

// Parse validates a string against the enum, returning an error for anything
// not in the closed set.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("vulntype: unknown vulnerability type %q", s)
	}
	return t, nil
}

// Severity is the deterministic grade derived from a Finding's confidence.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// DeriveSeverity maps a confidence score in [0,10] to its severity band:
// >=9 CRITICAL, >=7 HIGH, >=5 MEDIUM, >=3 LOW, else INFO.
func DeriveSeverity(confidence int) Severity {
	switch {
	case confidence >= 9:
		return SeverityCritical
	case confidence >= 7:
		return SeverityHigh
	case confidence >= 5:
		return SeverityMedium
	case confidence >= 3:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Intersect returns the members of requested that are also present in
// allowed, preserving requested's order. Used to apply the Phase 1
// vulnerability_types ∩ config.vuln_types policy (§9 Open Questions).
func Intersect(requested, allowed []Type) []Type {
	allow := make(map[Type]bool, len(allowed))
	for _, a := range allowed {
		allow[a] = true
	}
	out := make([]Type, 0, len(requested))
	for _, r := range requested {
		if allow[r] {
			out = append(out, r)
		}
	}
	return out
}
