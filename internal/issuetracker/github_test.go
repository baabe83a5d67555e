package issuetracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vulnhuntr/vulnhuntr/internal/model"
	"github.com/vulnhuntr/vulnhuntr/internal/vulntype"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GitHubClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewGitHubClient("acme", "widgets", "token-123")
	c.baseURL = srv.URL
	return c
}

func TestFileFindingPostsIssueAndReturnsURL(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody createIssueRequest

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(issueResponse{Number: 7, HTMLURL: "https://github.com/acme/widgets/issues/7", State: "open"})
	})

	f := &model.Finding{
		RuleID: "vulnhuntr.LFI", Title: "LFI in app.py", FilePath: "app.py", Line: 12,
		VulnType: vulntype.LFI, CWE: "CWE-22", Severity: vulntype.SeverityHigh, Confidence: 8,
		Analysis: "tainted path reaches open()",
	}

	url, err := c.FileFinding(context.Background(), f)
	if err != nil {
		t.Fatalf("FileFinding: %v", err)
	}
	if url != "https://github.com/acme/widgets/issues/7" {
		t.Errorf("url = %q", url)
	}
	if gotPath != "/repos/acme/widgets/issues" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer token-123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if !strings.Contains(gotBody.Title, "CWE-22") {
		t.Errorf("title = %q, want it to contain CWE-22", gotBody.Title)
	}
}

func TestIsOpenReportsIssueState(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(issueResponse{Number: 7, State: "closed"})
	})

	open, err := c.IsOpen(context.Background(), 7)
	if err != nil {
		t.Fatalf("IsOpen: %v", err)
	}
	if open {
		t.Error("IsOpen = true, want false for closed issue")
	}
}

func TestFileFindingReturnsErrorOnFailureStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	if _, err := c.FileFinding(context.Background(), &model.Finding{}); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
