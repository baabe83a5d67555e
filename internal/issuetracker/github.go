// Package issuetracker files findings as GitHub issues via the REST v3 API,
// for teams that want scan output to land directly in their existing
// tracker rather than as a standalone report.
package issuetracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vulnhuntr/vulnhuntr/internal/model"
)

const defaultBaseURL = "https://api.github.com"

// GitHubClient files issues in a single owner/repo and reports whether a
// filed issue is still open.
type GitHubClient struct {
	client  *http.Client
	baseURL string
	token   string
	owner   string
	repo    string
}

// NewGitHubClient builds a client for owner/repo authenticated with a
// personal access token or a GitHub App installation token.
func NewGitHubClient(owner, repo, token string) *GitHubClient {
	return &GitHubClient{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: defaultBaseURL,
		token:   token,
		owner:   owner,
		repo:    repo,
	}
}

type createIssueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

type issueResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
}

// FileFinding opens an issue for f, titled and labeled by its vulnerability
// type and severity, returning the created issue's URL.
func (c *GitHubClient) FileFinding(ctx context.Context, f *model.Finding) (string, error) {
	req := createIssueRequest{
		Title:  fmt.Sprintf("[%s] %s", f.CWE, f.Title),
		Body:   renderIssueBody(f),
		Labels: []string{"security", strings.ToLower(string(f.VulnType)), strings.ToLower(string(f.Severity))},
	}

	var resp issueResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/issues", c.owner, c.repo), req, &resp); err != nil {
		return "", fmt.Errorf("issuetracker: file finding: %w", err)
	}
	return resp.HTMLURL, nil
}

// IsOpen reports whether the issue at number is still open.
func (c *GitHubClient) IsOpen(ctx context.Context, number int) (bool, error) {
	var resp issueResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues/%d", c.owner, c.repo, number), nil, &resp); err != nil {
		return false, fmt.Errorf("issuetracker: get issue %d: %w", number, err)
	}
	return resp.State == "open", nil
}

func renderIssueBody(f *model.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**File:** `%s`", f.FilePath)
	if f.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", f.Line)
	}
	fmt.Fprintf(&b, "\n**Severity:** %s · **Confidence:** %d/10\n\n", f.Severity, f.Confidence)
	fmt.Fprintf(&b, "%s\n", f.Analysis)
	if f.PoC != nil && *f.PoC != "" {
		fmt.Fprintf(&b, "\n**Proof of concept:**\n```\n%s\n```\n", *f.PoC)
	}
	b.WriteString("\n_Filed automatically from a vulnhuntr scan._")
	return b.String()
}

func (c *GitHubClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("github api responded with status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
