package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vulnhuntr/vulnhuntr/internal/checkpoint"
	"github.com/vulnhuntr/vulnhuntr/internal/costtracker"
	"github.com/vulnhuntr/vulnhuntr/internal/history"
	"github.com/vulnhuntr/vulnhuntr/internal/providers"
	"github.com/vulnhuntr/vulnhuntr/internal/vulntype"
)

// fakeHistory answers ListFindings from a fixed in-memory slice and treats
// every other Store method as a no-op; only the already-reported read path
// is under test here.
type fakeHistory struct {
	findings []*history.Finding
}

func (f *fakeHistory) CreateProject(ctx context.Context, p *history.Project) error { return nil }
func (f *fakeHistory) GetProjectByPath(ctx context.Context, rootPath string) (*history.Project, error) {
	return &history.Project{ID: "proj-1", RootPath: rootPath}, nil
}
func (f *fakeHistory) ListProjects(ctx context.Context) ([]*history.Project, error) { return nil, nil }
func (f *fakeHistory) CreateRun(ctx context.Context, r *history.ScanRun) error      { return nil }
func (f *fakeHistory) FinishRun(ctx context.Context, id, status, stopReason string, totalCostUSD float64) error {
	return nil
}
func (f *fakeHistory) ListRuns(ctx context.Context, projectID string) ([]*history.ScanRun, error) {
	return nil, nil
}
func (f *fakeHistory) CreateFinding(ctx context.Context, fn *history.Finding) error { return nil }
func (f *fakeHistory) ListFindings(ctx context.Context, projectID string) ([]*history.Finding, error) {
	return f.findings, nil
}
func (f *fakeHistory) FindingExists(ctx context.Context, projectID, filePath, ruleID string) (bool, error) {
	return false, nil
}
func (f *fakeHistory) MarkInvestigated(ctx context.Context, area *history.InvestigatedArea) error {
	return nil
}
func (f *fakeHistory) IsInvestigated(ctx context.Context, projectID, filePath, vulnType string) (bool, error) {
	return false, nil
}
func (f *fakeHistory) Close() error { return nil }

// scriptedProvider returns one fixed body per call, in order, and an empty
// body once the script is exhausted; it never actually parses the request.
type scriptedProvider struct {
	bodies []string
	i      int
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) ModelID() string       { return "claude-opus-4-6" }
func (p *scriptedProvider) MaxContextTokens() int { return 100000 }

func (p *scriptedProvider) Complete(ctx context.Context, req providers.CompletionRequest) (<-chan providers.Event, error) {
	body := ""
	if p.i < len(p.bodies) {
		body = p.bodies[p.i]
	}
	p.i++
	ch := make(chan providers.Event, 4)
	ch <- providers.Event{Type: "text_delta", Text: body}
	ch <- providers.Event{Type: "done", Usage: &providers.Usage{InputTokens: 100, OutputTokens: 200, CostUSD: 0.001}}
	close(ch)
	return ch, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRunHappyPathEmitsOneLFIFinding(t *testing.T) {
	dir := t.TempDir()
	appPy := writeFile(t, dir, "app.py", "@app.route('/x')\ndef x(): return open(request.args['p']).read()\n")

	phase1Body := `"scratchpad": "tainted path to open()", "analysis": "user-controlled path reaches open()", "poc": null, "confidence_score": 8, "vulnerability_types": ["LFI"], "context_code": []}`
	phase2Body := `"scratchpad": "confirmed", "analysis": "request.args flows into open() with no sanitization", "poc": "?p=../../../etc/passwd", "confidence_score": 8, "vulnerability_types": ["LFI"], "context_code": []}`

	p := &scriptedProvider{bodies: []string{phase1Body, phase2Body}}
	store := checkpoint.NewStore(filepath.Join(dir, ".vulnhuntr_checkpoint"), 5)
	tracker := costtracker.New()
	e := New(p, store, tracker, dir)

	cfg := Config{Model: "claude-opus-4-6", MinConfidence: 5, MaxIterations: 2}
	result, err := e.Run(context.Background(), []string{appPy}, "", cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Findings) != 1 {
		t.Fatalf("len(Findings) = %d, want 1: %+v", len(result.Findings), result.Findings)
	}
	f := result.Findings[0]
	if f.VulnType != vulntype.LFI {
		t.Errorf("VulnType = %q, want LFI", f.VulnType)
	}
	if f.CWE != "CWE-22" {
		t.Errorf("CWE = %q, want CWE-22", f.CWE)
	}
	if f.Severity != vulntype.SeverityHigh && f.Severity != vulntype.SeverityCritical {
		t.Errorf("Severity = %q, want HIGH or CRITICAL", f.Severity)
	}
	if f.PoC == nil {
		t.Error("PoC is nil, want non-null")
	}

	if _, err := os.Stat(filepath.Join(dir, ".vulnhuntr_checkpoint", "checkpoint.json")); !os.IsNotExist(err) {
		t.Errorf("expected checkpoint deleted on success, stat err = %v", err)
	}
}

func TestRunFiltersBelowMinConfidence(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.py", "@app.route('/a')\ndef a(): pass\n")
	b := writeFile(t, dir, "b.py", "@app.route('/b')\ndef b(): pass\n")

	// a.py: phase1 surfaces LFI at low confidence 3, phase2 confirms at 3.
	// b.py: phase1 surfaces LFI at confidence 7, phase2 confirms at 7.
	bodies := []string{
		`"scratchpad": "s", "analysis": "a", "poc": null, "confidence_score": 3, "vulnerability_types": ["LFI"], "context_code": []}`,
		`"scratchpad": "s", "analysis": "a", "poc": null, "confidence_score": 3, "vulnerability_types": ["LFI"], "context_code": []}`,
		`"scratchpad": "s", "analysis": "b", "poc": null, "confidence_score": 7, "vulnerability_types": ["LFI"], "context_code": []}`,
		`"scratchpad": "s", "analysis": "b", "poc": null, "confidence_score": 7, "vulnerability_types": ["LFI"], "context_code": []}`,
	}
	p := &scriptedProvider{bodies: bodies}
	store := checkpoint.NewStore(filepath.Join(dir, ".vulnhuntr_checkpoint"), 5)
	tracker := costtracker.New()
	e := New(p, store, tracker, dir)

	cfg := Config{Model: "claude-opus-4-6", MinConfidence: 5, MaxIterations: 2}
	result, err := e.Run(context.Background(), []string{a, b}, "", cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Findings) != 1 {
		t.Fatalf("len(Findings) = %d, want 1 (only the confidence-7 finding survives)", len(result.Findings))
	}
	if result.Findings[0].Confidence != 7 {
		t.Errorf("surviving finding confidence = %d, want 7", result.Findings[0].Confidence)
	}
}

func TestRunStopsBeforeExceedingBudget(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.py", "@app.route('/a')\ndef a(): pass\n")

	p := &scriptedProvider{bodies: []string{}}
	store := checkpoint.NewStore(filepath.Join(dir, ".vulnhuntr_checkpoint"), 5)
	tracker := costtracker.New()
	e := New(p, store, tracker, dir)

	cfg := Config{Model: "claude-opus-4-6", MinConfidence: 5, MaxIterations: 2, MaxBudgetUSD: 1e-9}
	result, err := e.Run(context.Background(), []string{a}, "", cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Findings) != 0 {
		t.Fatalf("expected no findings, got %d", len(result.Findings))
	}
	if !result.Stopped {
		t.Error("expected Stopped=true")
	}

	if _, err := os.Stat(filepath.Join(dir, ".vulnhuntr_checkpoint", "checkpoint.json")); err != nil {
		t.Errorf("expected checkpoint preserved, got err = %v", err)
	}
	st := store.State()
	if len(st.Pending) != 1 || st.Pending[0] != a {
		t.Errorf("pending = %v, want [%s]", st.Pending, a)
	}
}

// TestRunPhase2ChecksBudgetBeforeEachCandidate verifies that a budget
// evaluated as OK for phase 1 and the first phase-2 candidate can still
// stop the run before a later candidate's initial send, rather than only
// being checked once per file.
func TestRunPhase2ChecksBudgetBeforeEachCandidate(t *testing.T) {
	dir := t.TempDir()
	appPy := writeFile(t, dir, "app.py", "@app.route('/x')\ndef x(): return open(request.args['p']).read()\n")

	phase1Body := `"scratchpad": "s", "analysis": "a", "poc": null, "confidence_score": 8, "vulnerability_types": ["LFI", "RCE"], "context_code": []}`
	phase2LFIBody := `"scratchpad": "s", "analysis": "lfi confirmed", "poc": null, "confidence_score": 8, "vulnerability_types": ["LFI"], "context_code": []}`

	p := &scriptedProvider{bodies: []string{phase1Body, phase2LFIBody}}
	store := checkpoint.NewStore(filepath.Join(dir, ".vulnhuntr_checkpoint"), 5)
	tracker := costtracker.New()
	e := New(p, store, tracker, dir)

	// Budget allows phase1 plus one phase2 candidate's worst-case estimate,
	// but not a second: the RCE candidate's initial send must never fire.
	cfg := Config{Model: "claude-opus-4-6", MinConfidence: 5, MaxIterations: 2, MaxBudgetUSD: 0.06}
	result, err := e.Run(context.Background(), []string{appPy}, "", cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.i != 2 {
		t.Fatalf("expected exactly 2 provider calls (phase1 + LFI phase2 initial), got %d", p.i)
	}
	if !result.Stopped {
		t.Error("expected Stopped=true once the RCE candidate's budget check fails")
	}
	if len(result.Findings) != 1 || result.Findings[0].VulnType != vulntype.LFI {
		t.Fatalf("expected the LFI finding gathered before the stop, got %+v", result.Findings)
	}
}

// capturingProvider records the last prompt it was sent, so a test can
// inspect the assembled envelope without a real model in the loop.
type capturingProvider struct {
	scriptedProvider
	lastPrompt string
}

func (p *capturingProvider) Complete(ctx context.Context, req providers.CompletionRequest) (<-chan providers.Event, error) {
	for _, m := range req.Messages {
		if m.Role == "user" {
			p.lastPrompt = m.Content
		}
	}
	return p.scriptedProvider.Complete(ctx, req)
}

func TestRunFoldsAlreadyReportedTitlesIntoPhase1Prompt(t *testing.T) {
	dir := t.TempDir()
	appPy := writeFile(t, dir, "app.py", "@app.route('/x')\ndef x(): return open(request.args['p']).read()\n")

	phase1Body := `"scratchpad": "s", "analysis": "a", "poc": null, "confidence_score": 2, "vulnerability_types": [], "context_code": []}`
	p := &capturingProvider{scriptedProvider: scriptedProvider{bodies: []string{phase1Body}}}
	store := checkpoint.NewStore(filepath.Join(dir, ".vulnhuntr_checkpoint"), 5)
	tracker := costtracker.New()
	e := New(p, store, tracker, dir)
	e.WithHistory(&fakeHistory{findings: []*history.Finding{
		{FilePath: appPy, Title: "LFI in app.py"},
		{FilePath: "other.py", Title: "RCE in other.py"},
	}}, "proj-1")

	cfg := Config{Model: "claude-opus-4-6", MinConfidence: 5, MaxIterations: 2}
	if _, err := e.Run(context.Background(), []string{appPy}, "", cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(p.lastPrompt, "<already_reported>") {
		t.Fatalf("prompt missing <already_reported> section: %s", p.lastPrompt)
	}
	if !strings.Contains(p.lastPrompt, "LFI in app.py") {
		t.Errorf("prompt missing this file's prior finding title: %s", p.lastPrompt)
	}
	if strings.Contains(p.lastPrompt, "RCE in other.py") {
		t.Errorf("prompt leaked another file's prior finding title: %s", p.lastPrompt)
	}
}

func TestRunDryRunSkipsLLMCalls(t *testing.T) {
	p := &scriptedProvider{}
	dir := t.TempDir()
	store := checkpoint.NewStore(filepath.Join(dir, ".vulnhuntr_checkpoint"), 5)
	tracker := costtracker.New()
	e := New(p, store, tracker, dir)

	cfg := Config{Model: "claude-opus-4-6", DryRun: true}
	result, err := e.Run(context.Background(), []string{"whatever.py"}, "", cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Findings) != 0 {
		t.Fatalf("expected no findings in dry run, got %d", len(result.Findings))
	}
	if p.i != 0 {
		t.Fatalf("expected zero provider calls in dry run, got %d", p.i)
	}
}
