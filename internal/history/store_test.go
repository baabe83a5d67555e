package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) (Store, func()) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, func() { s.Close() }
}

func TestNewStoreCreatesDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("expected database file to be created")
	}
}

func TestProjectCRUD(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	p := &Project{Name: "test-project", RootPath: "/tmp/test"}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if p.ID == "" {
		t.Fatal("expected project ID to be assigned")
	}

	got, err := s.GetProjectByPath(ctx, "/tmp/test")
	if err != nil {
		t.Fatalf("GetProjectByPath: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("GetProjectByPath returned different ID: %q vs %q", got.ID, p.ID)
	}

	list, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListProjects returned %d projects, want 1", len(list))
	}
}

func TestRunAndFindingLifecycle(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	p := &Project{Name: "proj", RootPath: "/tmp/proj"}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	run := &ScanRun{ProjectID: p.ID, Model: "claude-opus-4-6", Status: "running"}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID == "" {
		t.Fatal("expected run ID to be assigned")
	}

	f := &Finding{
		RunID: run.ID, ProjectID: p.ID, RuleID: "vulnhuntr.LFI", Title: "LFI in app.py",
		FilePath: "app.py", Line: 10, VulnType: "LFI", CWE: "CWE-22", Severity: "HIGH", Confidence: 8,
		Analysis: "tainted path reaches open()",
	}
	if err := s.CreateFinding(ctx, f); err != nil {
		t.Fatalf("CreateFinding: %v", err)
	}

	exists, err := s.FindingExists(ctx, p.ID, "app.py", "vulnhuntr.LFI")
	if err != nil {
		t.Fatalf("FindingExists: %v", err)
	}
	if !exists {
		t.Error("expected finding to exist after CreateFinding")
	}

	if err := s.FinishRun(ctx, run.ID, "completed", "", 0.42); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := s.ListRuns(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != "completed" {
		t.Fatalf("ListRuns = %+v, want one completed run", runs)
	}
}

func TestInvestigatedAreaIsIdempotent(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	p := &Project{Name: "proj", RootPath: "/tmp/proj2"}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	run := &ScanRun{ProjectID: p.ID, Model: "claude-opus-4-6", Status: "running"}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	area := &InvestigatedArea{ProjectID: p.ID, RunID: run.ID, FilePath: "app.py", VulnType: "LFI"}
	if err := s.MarkInvestigated(ctx, area); err != nil {
		t.Fatalf("MarkInvestigated: %v", err)
	}
	if err := s.MarkInvestigated(ctx, area); err != nil {
		t.Fatalf("MarkInvestigated (repeat): %v", err)
	}

	ok, err := s.IsInvestigated(ctx, p.ID, "app.py", "LFI")
	if err != nil {
		t.Fatalf("IsInvestigated: %v", err)
	}
	if !ok {
		t.Error("expected area to be investigated")
	}
}
