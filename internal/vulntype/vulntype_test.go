package vulntype

import "testing"

func TestDeriveSeverity(t *testing.T) {
	cases := []struct {
		confidence int
		want       Severity
	}{
		{10, SeverityCritical},
		{9, SeverityCritical},
		{8, SeverityHigh},
		{7, SeverityHigh},
		{6, SeverityMedium},
		{5, SeverityMedium},
		{4, SeverityLow},
		{3, SeverityLow},
		{2, SeverityInfo},
		{0, SeverityInfo},
	}
	for _, c := range cases {
		if got := DeriveSeverity(c.confidence); got != c.want {
			t.Errorf("DeriveSeverity(%d) = %s, want %s", c.confidence, got, c.want)
		}
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	if _, err := Parse("NOSUCHTYPE"); err == nil {
		t.Fatal("expected error for unknown vuln type")
	}
	got, err := Parse("SQLI")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != SQLI {
		t.Fatalf("got %s, want SQLI", got)
	}
}

func TestCWEMapMatchesSpec(t *testing.T) {
	want := map[Type]string{
		LFI:  "CWE-22",
		RCE:  "CWE-78",
		SSRF: "CWE-918",
		AFO:  "CWE-73",
		SQLI: "CWE-89",
		XSS:  "CWE-79",
		IDOR: "CWE-639",
	}
	for ty, cwe := range want {
		if got := ty.CWE(); got != cwe {
			t.Errorf("%s.CWE() = %s, want %s", ty, got, cwe)
		}
	}
}

func TestIntersectPreservesRequestedOrder(t *testing.T) {
	requested := []Type{XSS, SQLI, RCE}
	allowed := []Type{RCE, SQLI}
	got := Intersect(requested, allowed)
	if len(got) != 2 || got[0] != SQLI || got[1] != RCE {
		t.Fatalf("Intersect = %v, want [SQLI RCE]", got)
	}
}
