package discovery

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// RecentCommits shows recent git history for the sandboxed repository,
// used to enrich the readme_summary context passed into Phase 1 — hasty
// fixes and security-flavored commit messages are often a useful signal
// for where to look first.
//
// It is advisory only: when the target path is not a git repository, or
// git is unavailable, it returns an empty string rather than an error, so
// the engine can proceed without this enrichment.
func RecentCommits(ctx context.Context, sandbox *Sandbox, count int) string {
	if count > 100 {
		count = 100
	}
	if count < 1 {
		count = 20
	}

	gitPath, err := exec.LookPath("git")
	if err != nil {
		return ""
	}

	args := []string{
		"-C", sandbox.Root(),
		"log",
		fmt.Sprintf("-n%d", count),
		"--format=%h | %ad | %an | %s",
		"--date=short",
	}

	cmd := exec.CommandContext(ctx, gitPath, args...)
	cmd.Env = []string{
		"PATH=/usr/bin:/usr/local/bin:/bin",
		"HOME=/tmp",
		fmt.Sprintf("GIT_CEILING_DIRECTORIES=%s", sandbox.Root()),
	}

	output, err := cmd.Output()
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(output))
}
