package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	maxTreeDepth   = 6
	maxTreeEntries = 500
)

// Tree renders a directory listing under root, used to enrich a missing
// readme_summary with a structural overview when the CLI front end has no
// README to pass the engine.
func Tree(sandbox *Sandbox, depth int) (string, error) {
	if depth > maxTreeDepth {
		depth = maxTreeDepth
	}
	if depth < 1 {
		depth = 3
	}

	var b strings.Builder
	b.WriteString("./\n")
	entryCount := 0
	buildTree(&b, sandbox.Root(), "", depth, &entryCount)

	if entryCount >= maxTreeEntries {
		b.WriteString(fmt.Sprintf("\n... truncated (showing %d entries)\n", maxTreeEntries-1))
	}
	return b.String(), nil
}

func buildTree(b *strings.Builder, dirPath, prefix string, remainingDepth int, entryCount *int) {
	if remainingDepth <= 0 || *entryCount >= maxTreeEntries {
		return
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		b.WriteString(prefix + "└── [error reading directory]\n")
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		iDir := entries[i].IsDir()
		jDir := entries[j].IsDir()
		if iDir != jDir {
			return iDir
		}
		return entries[i].Name() < entries[j].Name()
	})

	filtered := make([]os.DirEntry, 0, len(entries))
	for _, e := range entries {
		if !defaultSkipDirs[e.Name()] {
			filtered = append(filtered, e)
		}
	}

	for i, entry := range filtered {
		*entryCount++
		if *entryCount >= maxTreeEntries {
			return
		}

		isLast := i == len(filtered)-1
		connector, childPrefix := "├── ", "│   "
		if isLast {
			connector, childPrefix = "└── ", "    "
		}

		name := entry.Name()
		if entry.Type()&os.ModeSymlink != 0 {
			b.WriteString(prefix + connector + name + " [symlink, not followed]\n")
			continue
		}
		if entry.IsDir() {
			b.WriteString(prefix + connector + name + "/\n")
			buildTree(b, filepath.Join(dirPath, name), prefix+childPrefix, remainingDepth-1, entryCount)
		} else {
			b.WriteString(prefix + connector + name + "\n")
		}
	}
}
