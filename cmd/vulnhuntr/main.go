package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vulnhuntr/vulnhuntr/internal/checkpoint"
	"github.com/vulnhuntr/vulnhuntr/internal/config"
	"github.com/vulnhuntr/vulnhuntr/internal/costtracker"
	"github.com/vulnhuntr/vulnhuntr/internal/discovery"
	"github.com/vulnhuntr/vulnhuntr/internal/engine"
	"github.com/vulnhuntr/vulnhuntr/internal/history"
	"github.com/vulnhuntr/vulnhuntr/internal/issuetracker"
	"github.com/vulnhuntr/vulnhuntr/internal/model"
	"github.com/vulnhuntr/vulnhuntr/internal/providers"
	"github.com/vulnhuntr/vulnhuntr/internal/report"
	"github.com/vulnhuntr/vulnhuntr/internal/vulntype"
	"github.com/vulnhuntr/vulnhuntr/internal/webhook"
)

func main() {
	root := &cobra.Command{
		Use:   "vulnhuntr",
		Short: "vulnhuntr — AI-assisted static vulnerability analysis for Python repos",
		Long:  "vulnhuntr scans a Python repository for exploitable vulnerabilities using a two-phase LLM analysis loop.",
	}

	root.AddCommand(
		scanCmd(),
		resumeCmd(),
		reportCmd(),
		modelsCmd(),
		configCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	if ce, ok := err.(*cliError); ok {
		return ce.code
	}
	return 1
}

// cliError carries the process exit code alongside the error message, per
// the external interfaces' exit code table.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }

func fail(code int, err error) error { return &cliError{code: code, err: err} }

// --- vulnhuntr scan ---

func scanCmd() *cobra.Command {
	var (
		model         string
		budget        float64
		minConfidence int
		maxIterations int
		vulnTypesFlag []string
		excludePaths  []string
		includePaths  []string
		dryRun        bool
		outputFormat  string
		outputPath    string
		project       string
	)

	cmd := &cobra.Command{
		Use:   "scan <repo-path>",
		Short: "Scan a repository for vulnerabilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath, err := filepath.Abs(args[0])
			if err != nil {
				return fail(2, fmt.Errorf("invalid repo path: %w", err))
			}
			info, err := os.Stat(repoPath)
			if err != nil || !info.IsDir() {
				return fail(2, fmt.Errorf("%q is not a directory", repoPath))
			}

			cfg, err := config.Load(repoPath)
			if err != nil {
				return fail(2, err)
			}
			applyScanFlags(cfg, model, budget, minConfidence, maxIterations, vulnTypesFlag, excludePaths, includePaths, dryRun)

			return runScan(repoPath, cfg, outputFormat, outputPath, project, false)
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "override llm.model")
	cmd.Flags().Float64Var(&budget, "budget", 0, "override cost.budget (USD)")
	cmd.Flags().IntVar(&minConfidence, "min-confidence", 0, "override analysis.confidence_threshold")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override analysis.max_iterations")
	cmd.Flags().StringSliceVar(&vulnTypesFlag, "vuln-types", nil, "restrict scan to these vuln types (comma-separated)")
	cmd.Flags().StringSliceVar(&excludePaths, "exclude", nil, "path prefixes to exclude")
	cmd.Flags().StringSliceVar(&includePaths, "include", nil, "path prefixes to restrict to")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "skip LLM calls; emit an empty result")
	cmd.Flags().StringVar(&outputFormat, "format", "markdown", "output format: markdown | json | sarif | html | csv")
	cmd.Flags().StringVar(&outputPath, "output", "", "write report to this path instead of stdout")
	cmd.Flags().StringVar(&project, "project", "", "project name for cross-run history; when set, Phase 1 is told which findings were already reported")

	return cmd
}

// --- vulnhuntr resume ---

func resumeCmd() *cobra.Command {
	var outputFormat, outputPath, project string

	cmd := &cobra.Command{
		Use:   "resume <repo-path>",
		Short: "Resume a previously interrupted scan from its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath, err := filepath.Abs(args[0])
			if err != nil {
				return fail(2, err)
			}
			cfg, err := config.Load(repoPath)
			if err != nil {
				return fail(2, err)
			}
			return runScan(repoPath, cfg, outputFormat, outputPath, project, true)
		},
	}

	cmd.Flags().StringVar(&outputFormat, "format", "markdown", "output format: markdown | json | sarif | html | csv")
	cmd.Flags().StringVar(&outputPath, "output", "", "write report to this path instead of stdout")
	cmd.Flags().StringVar(&project, "project", "", "project name for cross-run history; when set, Phase 1 is told which findings were already reported")
	return cmd
}

// --- vulnhuntr report ---

// reportCmd re-renders the findings already persisted for a project in
// history into a different output format, without re-running the engine.
func reportCmd() *cobra.Command {
	var outputFormat, outputPath string

	cmd := &cobra.Command{
		Use:   "report <repo-path>",
		Short: "Re-render a project's recorded findings in another format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath, err := filepath.Abs(args[0])
			if err != nil {
				return fail(2, fmt.Errorf("invalid repo path: %w", err))
			}

			dbPath, err := history.DefaultDBPath()
			if err != nil {
				return fail(1, err)
			}
			store, err := history.NewStore(dbPath)
			if err != nil {
				return fail(1, err)
			}
			defer store.Close()

			ctx := context.Background()
			proj, err := store.GetProjectByPath(ctx, repoPath)
			if err != nil {
				return fail(1, fmt.Errorf("no recorded history for %s: %w", repoPath, err))
			}

			records, err := store.ListFindings(ctx, proj.ID)
			if err != nil {
				return fail(1, err)
			}

			renderer, err := rendererFor(outputFormat)
			if err != nil {
				return fail(2, err)
			}

			findings := make([]*model.Finding, 0, len(records))
			for _, r := range records {
				findings = append(findings, historyFindingToModel(r))
			}
			summary := summarizeFindings(findings)

			w := os.Stdout
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return fail(1, err)
				}
				defer f.Close()
				return renderer.Render(f, findings, summary)
			}
			return renderer.Render(w, findings, summary)
		},
	}

	cmd.Flags().StringVar(&outputFormat, "format", "markdown", "output format: markdown | json | sarif | html | csv")
	cmd.Flags().StringVar(&outputPath, "output", "", "write report to this path instead of stdout")
	return cmd
}

// historyFindingToModel converts a persisted history.Finding back into the
// model.Finding shape the report renderers expect.
func historyFindingToModel(r *history.Finding) *model.Finding {
	vt := vulntype.Type(r.VulnType)
	var poc *string
	if r.PoC != "" {
		poc = &r.PoC
	}
	return &model.Finding{
		RuleID:       r.RuleID,
		Title:        r.Title,
		FilePath:     r.FilePath,
		Line:         r.Line,
		Description:  r.Analysis,
		Analysis:     r.Analysis,
		PoC:          poc,
		Confidence:   r.Confidence,
		Severity:     vulntype.Severity(r.Severity),
		VulnType:     vt,
		CWE:          r.CWE,
		CWEName:      vt.Name(),
		DiscoveredAt: r.CreatedAt,
	}
}

func summarizeFindings(findings []*model.Finding) report.Summary {
	byVuln := map[string]int{}
	byConf := map[int]int{}
	files := map[string]struct{}{}
	for _, f := range findings {
		byVuln[string(f.VulnType)]++
		byConf[f.Confidence]++
		files[f.FilePath] = struct{}{}
	}
	return report.Summary{
		TotalFiles:    len(files),
		TotalFindings: len(findings),
		ByVulnType:    byVuln,
		ByConfidence:  byConf,
	}
}

func applyScanFlags(cfg *config.Config, model string, budget float64, minConfidence, maxIterations int, vulnTypes, exclude, include []string, dryRun bool) {
	if model != "" {
		cfg.LLM.Model = model
	}
	if budget > 0 {
		cfg.Cost.Budget = budget
	}
	if minConfidence > 0 {
		cfg.Analysis.ConfidenceThreshold = minConfidence
	}
	if maxIterations > 0 {
		cfg.Analysis.MaxIterations = maxIterations
	}
	if len(vulnTypes) > 0 {
		cfg.Analysis.VulnTypes = vulnTypes
	}
	if len(exclude) > 0 {
		cfg.Analysis.ExcludePaths = exclude
	}
	if len(include) > 0 {
		cfg.Analysis.IncludePaths = include
	}
	if dryRun {
		cfg.DryRun = true
	}
}

func runScan(repoPath string, cfg *config.Config, outputFormat, outputPath, project string, resume bool) error {
	if err := cfg.ValidateForModel(cfg.LLM.Model); err != nil && !cfg.DryRun {
		return fail(2, err)
	}

	limiter := providers.NewRateLimiter(2)
	provider, err := providers.NewProvider(cfg.LLM.Model, cfg.ToAPIKeysMap(), limiter)
	if err != nil {
		return fail(2, err)
	}

	sandbox, err := discovery.NewSandbox(repoPath)
	if err != nil {
		return fail(2, err)
	}
	files, err := discovery.Discover(sandbox, discovery.Options{
		IncludePaths: cfg.Analysis.IncludePaths,
		ExcludePaths: cfg.Analysis.ExcludePaths,
	})
	if err != nil {
		return fail(1, err)
	}

	checkpointDir := filepath.Join(repoPath, checkpoint.DefaultDirName)
	saveFrequency := 5
	if cfg.Cost.CheckpointInterval > 0 {
		saveFrequency = cfg.Cost.CheckpointInterval
	}
	store := checkpoint.NewStore(checkpointDir, saveFrequency)

	tracker := costtracker.New()
	if resume {
		if !store.CanResume() {
			return fail(1, fmt.Errorf("no resumable checkpoint found at %s", checkpointDir))
		}
		state, err := store.Resume()
		if err != nil {
			return fail(1, err)
		}
		if restored, err := costtracker.FromDict(state.CostTracker); err == nil {
			tracker = restored
		}
		files = state.Pending
	}

	vulnTypes, err := parseVulnTypes(cfg.Analysis.VulnTypes)
	if err != nil {
		return fail(2, err)
	}

	e := engine.New(provider, store, tracker, repoPath)
	if project != "" && cfg.Integrations.History {
		if hstore, proj, err := openProjectHistory(context.Background(), project, repoPath); err == nil {
			defer hstore.Close()
			e.WithHistory(hstore, proj.ID)
		} else {
			fmt.Fprintln(os.Stderr, "vulnhuntr: history disabled:", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	readmeSummary := buildReadmeSummary(ctx, sandbox)

	result, err := e.Run(ctx, files, readmeSummary, engine.Config{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		MinConfidence: cfg.Analysis.ConfidenceThreshold,
		MaxIterations: cfg.Analysis.MaxIterations,
		VulnTypes:     vulnTypes,
		MaxBudgetUSD:  cfg.Cost.Budget,
		DryRun:        cfg.DryRun,
		SaveFrequency: saveFrequency,
	})
	if err != nil {
		return fail(1, err)
	}

	if err := writeReport(result, outputFormat, outputPath); err != nil {
		return fail(1, err)
	}

	notifyIntegrations(ctx, cfg, repoPath, result)

	if result.Stopped && result.Reason != "" {
		if ctx.Err() != nil {
			return fail(130, fmt.Errorf("%s", result.Reason))
		}
		fmt.Fprintln(os.Stderr, "vulnhuntr:", result.Reason)
	}
	return nil
}

func parseVulnTypes(raw []string) ([]vulntype.Type, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]vulntype.Type, 0, len(raw))
	for _, r := range raw {
		t, err := vulntype.Parse(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// buildReadmeSummary prefers the repo's own README; when none exists, it
// falls back to a directory tree plus recent commit history so Phase 1
// still gets some orientation about the project.
func buildReadmeSummary(ctx context.Context, sandbox *discovery.Sandbox) string {
	if readme := readReadmeFile(sandbox); readme != "" {
		return readme
	}

	var b strings.Builder
	if tree, err := discovery.Tree(sandbox, 3); err == nil && tree != "" {
		b.WriteString("Project layout:\n")
		b.WriteString(tree)
	}
	if commits := discovery.RecentCommits(ctx, sandbox, 20); commits != "" {
		b.WriteString("\nRecent commits:\n")
		b.WriteString(commits)
	}
	return b.String()
}

func readReadmeFile(sandbox *discovery.Sandbox) string {
	for _, name := range []string{"README.md", "README.rst", "README.txt", "README"} {
		path := filepath.Join(sandbox.Root(), name)
		if data, err := os.ReadFile(path); err == nil {
			if len(data) > 4000 {
				data = data[:4000]
			}
			return string(data)
		}
	}
	return ""
}

func rendererFor(format string) (report.Renderer, error) {
	switch format {
	case "json":
		return report.JSONRenderer{Indent: true}, nil
	case "sarif":
		return report.SARIFRenderer{}, nil
	case "html":
		return report.HTMLRenderer{}, nil
	case "csv":
		return report.CSVRenderer{}, nil
	case "markdown", "":
		return report.MarkdownRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (use: markdown, json, sarif, html, csv)", format)
	}
}

func writeReport(result *engine.WorkflowResult, format, outputPath string) error {
	renderer, err := rendererFor(format)
	if err != nil {
		return err
	}

	summary := report.Summary{
		TotalFiles:    result.Summary.TotalFiles,
		TotalFindings: result.Summary.TotalFindings,
		ByVulnType:    result.Summary.ByVulnType,
		ByConfidence:  result.Summary.ByConfidence,
	}

	w := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return renderer.Render(f, result.Findings, summary)
	}
	return renderer.Render(w, result.Findings, summary)
}

// notifyIntegrations fans a completed run's findings out to whichever of
// history, webhooks, and GitHub issue filing are configured. Each
// integration is independent and best-effort: a failure in one must not
// block the others or the command's exit status.
func notifyIntegrations(ctx context.Context, cfg *config.Config, repoPath string, result *engine.WorkflowResult) {
	if cfg.Integrations.History {
		recordHistory(ctx, cfg, repoPath, result)
	}
	if len(cfg.Integrations.WebhookURLs) > 0 {
		sendWebhooks(ctx, cfg, repoPath, result)
	}
	if cfg.Integrations.GitHubRepo != "" && cfg.Integrations.FileIssuesMinSeverity != "" {
		fileIssues(ctx, cfg, result)
	}
}

// openProjectHistory opens the shared history database and returns the
// project record for repoPath, creating it (named project, or the repo's
// base name if project is empty) on first use.
func openProjectHistory(ctx context.Context, project, repoPath string) (history.Store, *history.Project, error) {
	dbPath, err := history.DefaultDBPath()
	if err != nil {
		return nil, nil, err
	}
	store, err := history.NewStore(dbPath)
	if err != nil {
		return nil, nil, err
	}

	proj, err := store.GetProjectByPath(ctx, repoPath)
	if err != nil {
		name := project
		if name == "" {
			name = filepath.Base(repoPath)
		}
		proj = &history.Project{Name: name, RootPath: repoPath}
		if err := store.CreateProject(ctx, proj); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("create project record: %w", err)
		}
	}
	return store, proj, nil
}

func recordHistory(ctx context.Context, cfg *config.Config, repoPath string, result *engine.WorkflowResult) {
	store, proj, err := openProjectHistory(ctx, "", repoPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vulnhuntr: history disabled:", err)
		return
	}
	defer store.Close()

	run := &history.ScanRun{ProjectID: proj.ID, Model: cfg.LLM.Model, Status: "running"}
	if err := store.CreateRun(ctx, run); err != nil {
		fmt.Fprintln(os.Stderr, "vulnhuntr: create run record:", err)
		return
	}

	for _, f := range result.Findings {
		poc := ""
		if f.PoC != nil {
			poc = *f.PoC
		}
		rec := &history.Finding{
			RunID: run.ID, ProjectID: proj.ID, RuleID: f.RuleID, Title: f.Title,
			FilePath: f.FilePath, Line: f.Line, VulnType: string(f.VulnType), CWE: f.CWE,
			Severity: string(f.Severity), Confidence: f.Confidence, Analysis: f.Analysis, PoC: poc,
		}
		if err := store.CreateFinding(ctx, rec); err != nil {
			fmt.Fprintln(os.Stderr, "vulnhuntr: record finding:", err)
		}
	}

	status := "completed"
	if result.Stopped {
		status = "stopped"
	}
	if err := store.FinishRun(ctx, run.ID, status, result.Reason, 0); err != nil {
		fmt.Fprintln(os.Stderr, "vulnhuntr: finish run record:", err)
	}
}

func sendWebhooks(ctx context.Context, cfg *config.Config, repoPath string, result *engine.WorkflowResult) {
	sender := webhook.New(cfg.Integrations.WebhookURLs)
	for _, f := range result.Findings {
		if err := sender.SendFinding(ctx, repoPath, f); err != nil {
			fmt.Fprintln(os.Stderr, "vulnhuntr: webhook delivery:", err)
		}
	}
	if err := sender.SendScanComplete(ctx, repoPath); err != nil {
		fmt.Fprintln(os.Stderr, "vulnhuntr: webhook delivery:", err)
	}
}

var severityRank = map[vulntype.Severity]int{
	vulntype.SeverityInfo:     0,
	vulntype.SeverityLow:      1,
	vulntype.SeverityMedium:   2,
	vulntype.SeverityHigh:     3,
	vulntype.SeverityCritical: 4,
}

func fileIssues(ctx context.Context, cfg *config.Config, result *engine.WorkflowResult) {
	parts := strings.SplitN(cfg.Integrations.GitHubRepo, "/", 2)
	if len(parts) != 2 {
		fmt.Fprintf(os.Stderr, "vulnhuntr: integrations.github_repo %q must be \"owner/name\"\n", cfg.Integrations.GitHubRepo)
		return
	}
	threshold, ok := severityRank[vulntype.Severity(strings.ToUpper(cfg.Integrations.FileIssuesMinSeverity))]
	if !ok {
		fmt.Fprintf(os.Stderr, "vulnhuntr: unknown integrations.file_issues_min_severity %q\n", cfg.Integrations.FileIssuesMinSeverity)
		return
	}

	client := issuetracker.NewGitHubClient(parts[0], parts[1], cfg.Integrations.GitHubToken)
	for _, f := range result.Findings {
		if severityRank[f.Severity] < threshold {
			continue
		}
		url, err := client.FileFinding(ctx, f)
		if err != nil {
			fmt.Fprintln(os.Stderr, "vulnhuntr: file issue:", err)
			continue
		}
		fmt.Printf("filed issue for %s: %s\n", f.FilePath, url)
	}
}

// --- vulnhuntr models ---

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List supported models with pricing",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Supported Models:")
			fmt.Println()
			for _, id := range providers.ModelIDs() {
				m := providers.SupportedModels[id]
				fmt.Printf("  %-20s %-15s ctx:%dk  in:$%.2f/MTok  out:$%.2f/MTok\n",
					m.ID, m.ProviderType, m.MaxContext/1000,
					m.InputCostPerMTok, m.OutputCostPerMTok)
			}
		},
	}
}

// --- vulnhuntr config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Defaults()
			if err := config.Save(&cfg); err != nil {
				return err
			}
			home, _ := os.UserHomeDir()
			fmt.Printf("Config created at %s\n", filepath.Join(home, ".config", "vulnhuntr", "config.toml"))
			fmt.Println("Edit the file to add API keys, then run: vulnhuntr config set-key <provider> <key>")
			return nil
		},
	}

	setKey := &cobra.Command{
		Use:   "set-key <provider> <key>",
		Short: "Set an API key (providers: anthropic, openai, glm, kimi, minimax)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			providerName, key := args[0], args[1]

			cfg, err := config.Load("")
			if err != nil {
				return err
			}

			switch providerName {
			case "anthropic":
				cfg.Keys.Anthropic = key
			case "openai":
				cfg.Keys.OpenAI = key
			case "glm":
				cfg.Keys.GLM = key
			case "kimi":
				cfg.Keys.Kimi = key
			case "minimax":
				cfg.Keys.MiniMax = key
			default:
				return fmt.Errorf("unknown provider %q (use: anthropic, openai, glm, kimi, minimax)", providerName)
			}

			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Printf("API key for %s saved.\n", providerName)
			return nil
		},
	}

	cmd.AddCommand(initCmd, setKey)
	return cmd
}
