// Package engine implements the two-phase analysis workflow: a broad Phase 1
// scan per file followed by a per-vulnerability-type Phase 2 deepening that
// resolves symbols through the Symbol Index until the model reaches a fixed
// point or the iteration ceiling is hit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/vulnhuntr/vulnhuntr/internal/checkpoint"
	"github.com/vulnhuntr/vulnhuntr/internal/costtracker"
	"github.com/vulnhuntr/vulnhuntr/internal/discovery"
	"github.com/vulnhuntr/vulnhuntr/internal/history"
	"github.com/vulnhuntr/vulnhuntr/internal/llmsession"
	"github.com/vulnhuntr/vulnhuntr/internal/model"
	"github.com/vulnhuntr/vulnhuntr/internal/providers"
	"github.com/vulnhuntr/vulnhuntr/internal/symbolindex"
	"github.com/vulnhuntr/vulnhuntr/internal/vulntype"
)

// ErrCancelled is returned from Run when the context was cancelled.
var ErrCancelled = errors.New("engine: cancelled")

// ErrBudgetExceeded is returned from Run when the tracked cost would exceed
// config.MaxBudgetUSD before all files were processed.
var ErrBudgetExceeded = errors.New("engine: budget exceeded")

const defaultMaxIterations = 7

// Config enumerates the run(files, readme_summary, config) options.
type Config struct {
	Provider       string
	Model          string
	MinConfidence  int
	MaxIterations  int
	VulnTypes      []vulntype.Type
	MaxBudgetUSD   float64
	DryRun         bool
	SaveFrequency  int
}

// Summary is the post-run aggregation over every emitted Finding.
type Summary struct {
	TotalFiles    int            `json:"total_files"`
	TotalFindings int            `json:"total_findings"`
	ByVulnType    map[string]int `json:"by_vuln_type"`
	ByConfidence  map[int]int    `json:"by_confidence"`
}

// WorkflowResult is the return value of Run.
type WorkflowResult struct {
	Findings []*model.Finding
	Summary  Summary
	Stopped  bool // true if the run ended early (cancelled or budget exceeded)
	Reason   string
}

// Engine owns the shared, run-scoped resources: the provider, the cost
// tracker, the checkpoint store, and the audit trail. No component holds a
// reference across file boundaries except the engine itself.
type Engine struct {
	Provider providers.Provider
	Cost     *costtracker.Tracker
	Checkpoint *checkpoint.Store
	Audit    *AuditLog
	RepoPath string

	// History and ProjectID are optional: when both are set, runFile
	// queries prior findings for ProjectID before building the Phase 1
	// prompt, so the model sees what was already reported for this
	// project in an earlier run.
	History   history.Store
	ProjectID string
}

// New constructs an Engine. checkpointStore and costTracker may be freshly
// created or already primed by a prior Resume() call.
func New(provider providers.Provider, checkpointStore *checkpoint.Store, costTracker *costtracker.Tracker, repoPath string) *Engine {
	return &Engine{
		Provider:   provider,
		Cost:       costTracker,
		Checkpoint: checkpointStore,
		Audit:      NewAuditLog(),
		RepoPath:   repoPath,
	}
}

// WithHistory attaches a history store and project ID, enabling the
// already-reported prompt section in subsequent runs.
func (e *Engine) WithHistory(store history.Store, projectID string) *Engine {
	e.History = store
	e.ProjectID = projectID
	return e
}

// Run executes the two-phase workflow over files in input order.
func (e *Engine) Run(ctx context.Context, files []string, readmeSummary string, cfg Config) (*WorkflowResult, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if len(cfg.VulnTypes) == 0 {
		cfg.VulnTypes = vulntype.All()
	}

	if cfg.DryRun {
		return &WorkflowResult{Summary: Summary{ByVulnType: map[string]int{}, ByConfidence: map[int]int{}}}, nil
	}

	if e.Checkpoint.State() == nil {
		if err := e.Checkpoint.Start(e.RepoPath, files, cfg.Model, e.Cost.ToDict()); err != nil {
			fmt.Fprintf(os.Stderr, "vulnhuntr: checkpoint start warning: %v\n", err)
		}
	}

	index := symbolindex.New(files)

	var findings []*model.Finding
	stopped := false
	reason := ""

	pending := append([]string{}, e.Checkpoint.State().Pending...)

	for _, file := range pending {
		if err := e.checkCancelled(ctx); err != nil {
			stopped = true
			reason = ErrCancelled.Error()
			e.Audit.Record(Event{Type: EventCancelled, File: file})
			break
		}

		if bc := e.checkBudget(cfg); !bc.OK {
			stopped = true
			reason = fmt.Sprintf("%s: would exceed budget by $%.4f", ErrBudgetExceeded, bc.Delta)
			e.Audit.Record(Event{Type: EventBudgetExceeded, File: file, Text: reason})
			break
		}

		e.Checkpoint.SetCurrentFile(file)
		e.Audit.Record(Event{Type: EventFileStarted, File: file})

		fileFindings, err := e.runFile(ctx, file, readmeSummary, cfg, index)
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				stopped = true
				reason = err.Error()
				break
			}
			if errors.Is(err, ErrBudgetExceeded) {
				stopped = true
				reason = err.Error()
				e.Audit.Record(Event{Type: EventBudgetExceeded, File: file, Text: reason})
				findings = append(findings, fileFindings...)
				if markErr := e.Checkpoint.MarkFileComplete(file, fileFindings); markErr != nil {
					fmt.Fprintf(os.Stderr, "vulnhuntr: checkpoint warning: %v\n", markErr)
				}
				break
			}
			// A per-file failure (the source could not be read, or Phase 1
			// failed, e.g. with a ParseError that survived correction) does
			// not abort the run; the file simply yields no findings.
			fmt.Fprintf(os.Stderr, "vulnhuntr: %s: %v\n", file, err)
		}

		findings = append(findings, fileFindings...)
		if markErr := e.Checkpoint.MarkFileComplete(file, fileFindings); markErr != nil {
			fmt.Fprintf(os.Stderr, "vulnhuntr: checkpoint warning: %v\n", markErr)
		}
		e.Audit.Record(Event{Type: EventFileDone, File: file})
	}

	filtered := make([]*model.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Confidence >= cfg.MinConfidence {
			filtered = append(filtered, f)
		}
	}

	summary := aggregate(files, filtered)

	success := !stopped
	if err := e.Checkpoint.Finalize(success); err != nil {
		fmt.Fprintf(os.Stderr, "vulnhuntr: checkpoint finalize warning: %v\n", err)
	}

	return &WorkflowResult{Findings: filtered, Summary: summary, Stopped: stopped, Reason: reason}, nil
}

// runFile executes Phase 1 then Phase 2 (per intersected vuln type) for one
// file, returning every finding that converged.
func (e *Engine) runFile(ctx context.Context, file, readmeSummary string, cfg Config, index *symbolindex.Index) ([]*model.Finding, error) {
	source, err := discovery.ReadSource(file)
	if err != nil {
		return nil, fmt.Errorf("engine: read %s: %w", file, err)
	}

	phase1 := llmsession.New(e.Provider, systemPrompt(readmeSummary))
	r0, err := phase1.SendInitial(ctx, buildPhase1Prompt(file, source, e.alreadyReportedTitles(ctx, file)))
	if err != nil {
		return nil, fmt.Errorf("engine: phase1 %s: %w", file, err)
	}
	e.recordUsage(phase1, file)
	e.Audit.Record(Event{Type: EventPhase1Done, File: file})

	candidates := vulntype.Intersect(r0.VulnerabilityTypes, cfg.VulnTypes)

	var findings []*model.Finding
	for _, t := range candidates {
		if err := e.checkCancelled(ctx); err != nil {
			return findings, err
		}
		finding, err := e.runPhase2(ctx, file, source, t, cfg, index)
		if err != nil {
			if errors.Is(err, ErrBudgetExceeded) {
				return findings, err
			}
			fmt.Fprintf(os.Stderr, "vulnhuntr: %s: %s: %v\n", file, t, err)
			continue
		}
		if finding != nil {
			findings = append(findings, finding)
			e.Audit.Record(Event{Type: EventFindingEmitted, File: file, VulnType: string(t)})
		}
	}
	return findings, nil
}

// runPhase2 iterates the deepening loop for one vuln type until context_code
// comes back empty (fixed point), no new symbols resolve, or the iteration
// ceiling is hit.
func (e *Engine) runPhase2(ctx context.Context, file, source string, t vulntype.Type, cfg Config, index *symbolindex.Index) (*model.Finding, error) {
	session := llmsession.New(e.Provider, systemPrompt(""))

	var accumulated []model.ResolvedContext
	var last *model.Response

	if bc := e.checkBudget(cfg); !bc.OK {
		return nil, fmt.Errorf("phase2 initial: %w: would exceed budget by $%.4f", ErrBudgetExceeded, bc.Delta)
	}

	prompt := buildPhase2Prompt(file, source, t, accumulated, nil)
	resp, err := session.SendInitial(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("phase2 initial: %w", err)
	}
	e.recordUsage(session, file)
	last = resp

	for i := 1; i <= cfg.MaxIterations; i++ {
		e.Audit.Record(Event{Type: EventPhase2Iteration, File: file, VulnType: string(t), Iteration: i})

		if len(last.ContextCode) == 0 {
			break
		}

		resolvedAny := false
		for _, req := range last.ContextCode {
			match, _ := index.Resolve(req.Name)
			rc := model.ResolvedContext{Name: req.Name, Requested: req.Reason}
			if match != nil {
				rc.FilePath = match.FilePath
				rc.Source = match.Source
				resolvedAny = true
			}
			accumulated = append(accumulated, rc)
		}
		if !resolvedAny {
			break
		}

		if err := e.checkCancelled(ctx); err != nil {
			return model.ResponseToFinding(last, file, t, accumulated), err
		}
		if bc := e.checkBudget(cfg); !bc.OK {
			break
		}

		prompt = buildPhase2Prompt(file, source, t, accumulated, last)
		resp, err = session.SendFollowup(ctx, prompt)
		if err != nil {
			// The last converged Response is still usable; stop deepening.
			break
		}
		e.recordUsage(session, file)
		last = resp
	}

	if last == nil || last.ConfidenceScore <= 0 {
		return nil, nil
	}
	finding := model.ResponseToFinding(last, file, t, accumulated)
	if err := finding.Validate(); err != nil {
		return nil, fmt.Errorf("emit %s: %w", t, err)
	}
	return finding, nil
}

// alreadyReportedTitles returns the titles of findings already recorded for
// file in a prior run against the same project, or nil if history wasn't
// attached. Lookup failures are non-fatal: the prompt simply omits the
// section.
func (e *Engine) alreadyReportedTitles(ctx context.Context, file string) []string {
	if e.History == nil || e.ProjectID == "" {
		return nil
	}
	findings, err := e.History.ListFindings(ctx, e.ProjectID)
	if err != nil {
		return nil
	}
	var titles []string
	for _, f := range findings {
		if f.FilePath == file {
			titles = append(titles, f.Title)
		}
	}
	return titles
}

func (e *Engine) recordUsage(s *llmsession.Session, file string) {
	u := s.LastUsage()
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return
	}
	e.Cost.Record(s.ModelID(), u.InputTokens, u.OutputTokens, file)
}

func (e *Engine) checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
		return nil
	}
}

const estimatedOutputTokensPerCall = 2000

// checkBudget estimates the worst-case cost of the next outbound call and
// reports whether it would exceed cfg.MaxBudgetUSD.
func (e *Engine) checkBudget(cfg Config) costtracker.BudgetCheck {
	planned := costtracker.Estimate(cfg.Model, 0, estimatedOutputTokensPerCall)
	bc := e.Cost.CheckBudget(planned, cfg.MaxBudgetUSD)
	if bc.OK {
		if warn := e.Cost.DetectEscalation(5, 2.5); warn != nil {
			e.Audit.Record(Event{Type: EventEscalation, Text: fmt.Sprintf("cost escalation ratio %.2fx", warn.Ratio)})
		}
	}
	return bc
}

func aggregate(allFiles []string, findings []*model.Finding) Summary {
	byVuln := map[string]int{}
	byConf := map[int]int{}
	for _, f := range findings {
		byVuln[string(f.VulnType)]++
		byConf[f.Confidence]++
	}
	return Summary{
		TotalFiles:    len(allFiles),
		TotalFindings: len(findings),
		ByVulnType:    byVuln,
		ByConfidence:  byConf,
	}
}
