// Package symbolindex resolves a symbol name requested by the model to the
// source snippet that defines (or, failing that, references) it, scanning
// the repository's discovered source files.
package symbolindex

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
)

// Match is a resolved symbol: the file it was found in and the source text
// to feed back to the model.
type Match struct {
	FilePath string
	Source   string
}

// Index resolves symbol names against a fixed list of candidate source
// files. It is not safe to mutate Files concurrently with Resolve, matching
// the Analysis Engine's single-threaded-per-file scheduling model.
type Index struct {
	Files []string // absolute or root-relative paths, in discovery order

	cacheMu sync.RWMutex
	cache   map[string]*Match
}

// New creates an Index over the given candidate files.
func New(files []string) *Index {
	return &Index{
		Files: files,
		cache: make(map[string]*Match),
	}
}

// definitionPattern matches a Python function/method/class definition
// whose name is the requested symbol. Indentation is captured so the
// caller can find the block's extent.
func definitionPattern(name string) *regexp.Regexp {
	escaped := regexp.QuoteMeta(name)
	return regexp.MustCompile(
		`^(?P<indent>[ \t]*)(?:async\s+)?(?:def|class)\s+` + escaped + `\s*[(:]`,
	)
}

// referencePattern matches any syntactic occurrence of name as a bare
// identifier — used as the fallback when no definition is found.
func referencePattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
}

// Resolve implements the Symbol Index contract: resolve(name) ->
// (file_path, source_snippet) | null. It is best-effort and linear —
// the first matching file wins, preferring a definition to a reference.
// A nil result is not an error; the caller surfaces "unresolved" to the
// model so analysis can continue.
func (idx *Index) Resolve(name string) (*Match, error) {
	if name == "" {
		return nil, fmt.Errorf("symbolindex: empty symbol name")
	}

	idx.cacheMu.RLock()
	if m, ok := idx.cache[name]; ok {
		idx.cacheMu.RUnlock()
		return m, nil
	}
	idx.cacheMu.RUnlock()

	defPattern := definitionPattern(name)
	refPattern := referencePattern(name)

	var refMatch *Match

	for _, path := range idx.Files {
		lines, err := readLines(path)
		if err != nil {
			// A file that vanished or can't be read is skipped, not fatal —
			// the search simply continues to the next candidate.
			continue
		}

		for i, line := range lines {
			if m := defPattern.FindStringSubmatch(line); m != nil {
				indent := m[1]
				snippet := extractBlock(lines, i, indent)
				match := &Match{FilePath: path, Source: snippet}
				idx.store(name, match)
				return match, nil
			}
			if refMatch == nil && refPattern.MatchString(line) {
				refMatch = &Match{FilePath: path, Source: strings.TrimRight(line, "\r\n")}
			}
		}
	}

	if refMatch != nil {
		idx.store(name, refMatch)
		return refMatch, nil
	}

	idx.store(name, nil)
	return nil, nil
}

func (idx *Index) store(name string, m *Match) {
	idx.cacheMu.Lock()
	defer idx.cacheMu.Unlock()
	idx.cache[name] = m
}

// extractBlock returns the source from the definition line to the next
// unindented (or equally-indented, non-blank) line, or end of file.
func extractBlock(lines []string, defLine int, defIndent string) string {
	var b strings.Builder
	b.WriteString(lines[defLine])
	b.WriteString("\n")

	for i := defLine + 1; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			b.WriteString(line)
			b.WriteString("\n")
			continue
		}
		lineIndent := leadingWhitespace(line)
		if len(lineIndent) <= len(defIndent) {
			break
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func leadingWhitespace(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return s[:i]
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	const maxLineLength = 256 * 1024
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLineLength)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
