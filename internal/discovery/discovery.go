// Package discovery is the file-system-walk and entry-point-filter
// collaborator: it hands the Analysis Engine an ordered list of target
// files. Its precision is the filter's contract, not the engine's — per
// the design notes, the filter is kept replaceable.
package discovery

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const maxSourceFileSize = 2 * 1024 * 1024 // skip anything bigger; unlikely to be hand-written source

// defaultSkipDirs are never descended into — generated or vendored trees
// that would otherwise drown the entry-point filter in noise.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"node_modules": true,
	".tox":         true,
	"dist":         true,
	"build":        true,
	".mypy_cache":  true,
	".pytest_cache": true,
}

// EntryPointFilter decides whether a source file is worth sending through
// analysis: it contains something externally reachable. The default
// implementation targets common Python web-framework entry points; callers
// may substitute their own via Options.Filter.
type EntryPointFilter struct {
	patterns []*regexp.Regexp
}

// NewDefaultEntryPointFilter returns the filter used when Options.Filter is
// nil: a regex set matching common Python route/handler/CLI-entry idioms.
func NewDefaultEntryPointFilter() *EntryPointFilter {
	raw := []string{
		`@app\.route\(`,
		`@(?:app|router|blueprint)\.(?:get|post|put|delete|patch|websocket)\(`,
		`@api_view\(`,
		`class\s+\w+\(.*APIView.*\)`,
		`class\s+\w+\(.*View.*\)`,
		`def\s+handle(?:r)?\s*\(`,
		`urlpatterns\s*=`,
		`if\s+__name__\s*==\s*['"]__main__['"]`,
		`\bFastAPI\s*\(`,
		`\bFlask\s*\(`,
		`@click\.command\(`,
		`@celery_app\.task\(`,
		`def\s+lambda_handler\s*\(`,
	}
	compiled := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return &EntryPointFilter{patterns: compiled}
}

// Matches reports whether source looks like it exposes an externally
// reachable entry point.
func (f *EntryPointFilter) Matches(source string) bool {
	for _, p := range f.patterns {
		if p.MatchString(source) {
			return true
		}
	}
	return false
}

// Options configures Discover.
type Options struct {
	IncludePaths []string // path prefixes (relative to root) to restrict to; empty means all
	ExcludePaths []string // path prefixes (relative to root) to skip
	Filter       *EntryPointFilter // nil uses NewDefaultEntryPointFilter
	Extensions   []string // source file extensions to consider; defaults to [".py"]
}

// Discover walks the sandboxed root and returns target source files in a
// stable, sorted order: every ".py" (or configured extension) file, after
// include/exclude path filtering, whose content matches the entry-point
// filter.
func Discover(sandbox *Sandbox, opts Options) ([]string, error) {
	filter := opts.Filter
	if filter == nil {
		filter = NewDefaultEntryPointFilter()
	}
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = []string{".py"}
	}

	var matches []string
	root := sandbox.Root()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && defaultSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			// Never follow symlinked files — consistent with the sandbox's
			// no-symlink-escape posture.
			return nil
		}

		if !hasExtension(path, extensions) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if !pathAllowed(rel, opts.IncludePaths, opts.ExcludePaths) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxSourceFileSize {
			return nil
		}

		source, err := readSmallFile(path)
		if err != nil {
			return nil
		}
		if filter.Matches(source) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: walk %q: %w", root, err)
	}

	sort.Strings(matches)
	return matches, nil
}

func hasExtension(path string, extensions []string) bool {
	ext := filepath.Ext(path)
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func pathAllowed(rel string, include, exclude []string) bool {
	rel = filepath.ToSlash(rel)
	for _, ex := range exclude {
		if matchesPrefix(rel, ex) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, in := range include {
		if matchesPrefix(rel, in) {
			return true
		}
	}
	return false
}

func matchesPrefix(rel, prefix string) bool {
	prefix = strings.TrimPrefix(filepath.ToSlash(prefix), "./")
	prefix = strings.TrimSuffix(prefix, "/")
	return rel == prefix || strings.HasPrefix(rel, prefix+"/")
}

func readSmallFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 256*1024)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// ReadSource reads the full content of a discovered file for Phase 1's
// prompt envelope.
func ReadSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("discovery: read source %q: %w", path, err)
	}
	return string(data), nil
}
