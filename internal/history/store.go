// Package history persists scan runs and their findings across invocations,
// so a repeat scan of the same project can report new-vs-seen findings and
// list prior runs without re-reading checkpoint files.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// --- Domain types ---

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RootPath  string    `json:"root_path"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScanRun is one invocation of the engine against a project: a scan or a
// resume both produce one row here.
type ScanRun struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	Model        string     `json:"model"`
	Status       string     `json:"status"` // "running" | "completed" | "stopped" | "failed"
	StopReason   string     `json:"stop_reason,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	TotalCostUSD float64    `json:"total_cost_usd"`
}

// Finding is the persisted form of a model.Finding, scoped to the run and
// project that produced it.
type Finding struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	ProjectID  string    `json:"project_id"`
	RuleID     string    `json:"rule_id"`
	Title      string    `json:"title"`
	FilePath   string    `json:"file_path"`
	Line       int       `json:"line"`
	VulnType   string    `json:"vuln_type"`
	CWE        string    `json:"cwe"`
	Severity   string    `json:"severity"`
	Confidence int       `json:"confidence"`
	Analysis   string    `json:"analysis"`
	PoC        string    `json:"poc,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// InvestigatedArea records a file+vuln_type pair already carried to a fixed
// point in a prior run. It stores no file content or hash, so it does not
// tell whether the file has changed since.
type InvestigatedArea struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	RunID     string    `json:"run_id"`
	FilePath  string    `json:"file_path"`
	VulnType  string    `json:"vuln_type"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Store interface ---

type Store interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProjectByPath(ctx context.Context, rootPath string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)

	CreateRun(ctx context.Context, r *ScanRun) error
	FinishRun(ctx context.Context, id, status, stopReason string, totalCostUSD float64) error
	ListRuns(ctx context.Context, projectID string) ([]*ScanRun, error)

	CreateFinding(ctx context.Context, f *Finding) error
	ListFindings(ctx context.Context, projectID string) ([]*Finding, error)
	FindingExists(ctx context.Context, projectID, filePath, ruleID string) (bool, error)

	MarkInvestigated(ctx context.Context, area *InvestigatedArea) error
	IsInvestigated(ctx context.Context, projectID, filePath, vulnType string) (bool, error)

	Close() error
}

type sqliteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    root_path   TEXT NOT NULL UNIQUE,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scan_runs (
    id              TEXT PRIMARY KEY,
    project_id      TEXT NOT NULL REFERENCES projects(id),
    model           TEXT NOT NULL,
    status          TEXT NOT NULL,
    stop_reason     TEXT,
    started_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    ended_at        DATETIME,
    total_cost_usd  REAL DEFAULT 0.0
);

CREATE TABLE IF NOT EXISTS findings (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL REFERENCES scan_runs(id),
    project_id  TEXT NOT NULL REFERENCES projects(id),
    rule_id     TEXT NOT NULL,
    title       TEXT NOT NULL,
    file_path   TEXT NOT NULL,
    line        INTEGER NOT NULL DEFAULT 0,
    vuln_type   TEXT NOT NULL,
    cwe         TEXT NOT NULL,
    severity    TEXT NOT NULL,
    confidence  INTEGER NOT NULL,
    analysis    TEXT NOT NULL,
    poc         TEXT,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(project_id, file_path, rule_id)
);

CREATE TABLE IF NOT EXISTS investigated_areas (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL REFERENCES projects(id),
    run_id      TEXT NOT NULL REFERENCES scan_runs(id),
    file_path   TEXT NOT NULL,
    vuln_type   TEXT NOT NULL,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(project_id, file_path, vuln_type)
);
`

// DefaultDBPath returns ~/.config/vulnhuntr/history.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("history: cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "vulnhuntr", "history.db"), nil
}

// NewStore opens (or creates) a SQLite database at dbPath and initializes the schema.
func NewStore(dbPath string) (Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("history: failed to create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("history: failed to open database %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: failed to initialize schema: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *sqliteStore) CreateProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, root_path, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.RootPath, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("history: create project: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetProjectByPath(ctx context.Context, rootPath string) (*Project, error) {
	p := &Project{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, root_path, created_at, updated_at FROM projects WHERE root_path = ?`, rootPath).
		Scan(&p.ID, &p.Name, &p.RootPath, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("history: project with path %q not found", rootPath)
	}
	if err != nil {
		return nil, fmt.Errorf("history: get project by path: %w", err)
	}
	return p, nil
}

func (s *sqliteStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, root_path, created_at, updated_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("history: list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p := &Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.RootPath, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("history: list projects scan: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// --- Scan runs ---

func (s *sqliteStore) CreateRun(ctx context.Context, r *ScanRun) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.StartedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_runs (id, project_id, model, status, started_at, total_cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.Model, r.Status, r.StartedAt, r.TotalCostUSD)
	if err != nil {
		return fmt.Errorf("history: create run: %w", err)
	}
	return nil
}

func (s *sqliteStore) FinishRun(ctx context.Context, id, status, stopReason string, totalCostUSD float64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE scan_runs SET status = ?, stop_reason = ?, ended_at = ?, total_cost_usd = ? WHERE id = ?`,
		status, stopReason, now, totalCostUSD, id)
	if err != nil {
		return fmt.Errorf("history: finish run: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListRuns(ctx context.Context, projectID string) ([]*ScanRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, model, status, COALESCE(stop_reason, ''), started_at, ended_at, total_cost_usd
		 FROM scan_runs WHERE project_id = ? ORDER BY started_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*ScanRun
	for rows.Next() {
		r := &ScanRun{}
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Model, &r.Status, &r.StopReason, &r.StartedAt, &r.EndedAt, &r.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("history: list runs scan: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Findings ---

func (s *sqliteStore) CreateFinding(ctx context.Context, f *Finding) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO findings
		 (id, run_id, project_id, rule_id, title, file_path, line, vuln_type, cwe, severity, confidence, analysis, poc, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.RunID, f.ProjectID, f.RuleID, f.Title, f.FilePath, f.Line, f.VulnType, f.CWE,
		f.Severity, f.Confidence, f.Analysis, f.PoC, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("history: create finding: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListFindings(ctx context.Context, projectID string) ([]*Finding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, project_id, rule_id, title, file_path, line, vuln_type, cwe, severity, confidence, analysis, COALESCE(poc, ''), created_at
		 FROM findings WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("history: list findings: %w", err)
	}
	defer rows.Close()

	var findings []*Finding
	for rows.Next() {
		f := &Finding{}
		if err := rows.Scan(&f.ID, &f.RunID, &f.ProjectID, &f.RuleID, &f.Title, &f.FilePath, &f.Line,
			&f.VulnType, &f.CWE, &f.Severity, &f.Confidence, &f.Analysis, &f.PoC, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: list findings scan: %w", err)
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

func (s *sqliteStore) FindingExists(ctx context.Context, projectID, filePath, ruleID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM findings WHERE project_id = ? AND file_path = ? AND rule_id = ?`,
		projectID, filePath, ruleID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("history: finding exists check: %w", err)
	}
	return count > 0, nil
}

// --- Investigated areas ---

func (s *sqliteStore) MarkInvestigated(ctx context.Context, area *InvestigatedArea) error {
	if area.ID == "" {
		area.ID = uuid.New().String()
	}
	area.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO investigated_areas (id, project_id, run_id, file_path, vuln_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		area.ID, area.ProjectID, area.RunID, area.FilePath, area.VulnType, area.CreatedAt)
	if err != nil {
		return fmt.Errorf("history: mark investigated: %w", err)
	}
	return nil
}

func (s *sqliteStore) IsInvestigated(ctx context.Context, projectID, filePath, vulnType string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM investigated_areas WHERE project_id = ? AND file_path = ? AND vuln_type = ?`,
		projectID, filePath, vulnType).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("history: is investigated check: %w", err)
	}
	return count > 0, nil
}
