package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sandbox enforces filesystem boundaries for every discovery operation —
// the walk, the tree summary, and the git-log enrichment all resolve paths
// through it before touching disk.
//
// SECURITY MODEL:
// - All paths are resolved to absolute form before comparison
// - Symlinks are resolved to prevent symlink traversal attacks
// - The root path itself is resolved at sandbox creation time
// - Nothing reachable through this Sandbox can escape the resolved root
type Sandbox struct {
	resolvedRoot string
}

// NewSandbox creates a sandbox rooted at the given path. The path must
// exist and must be a directory.
func NewSandbox(rootPath string) (*Sandbox, error) {
	absPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("discovery: failed to resolve absolute path %q: %w", rootPath, err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("discovery: failed to resolve symlinks for %q: %w", absPath, err)
	}

	info, err := os.Stat(resolvedPath)
	if err != nil {
		return nil, fmt.Errorf("discovery: root path %q does not exist: %w", resolvedPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("discovery: root path %q is not a directory", resolvedPath)
	}

	return &Sandbox{resolvedRoot: resolvedPath}, nil
}

// Root returns the resolved sandbox root path.
func (s *Sandbox) Root() string {
	return s.resolvedRoot
}

// ValidatePath checks that the given path is within the sandbox root,
// resolving symlinks to prevent escape via a symlinked entry inside the
// repository pointing outside it.
func (s *Sandbox) ValidatePath(requestedPath string) (string, error) {
	var absPath string
	if filepath.IsAbs(requestedPath) {
		absPath = filepath.Clean(requestedPath)
	} else {
		absPath = filepath.Clean(filepath.Join(s.resolvedRoot, requestedPath))
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		parentDir := filepath.Dir(absPath)
		resolvedParent, parentErr := filepath.EvalSymlinks(parentDir)
		if parentErr != nil {
			return "", fmt.Errorf("discovery: path %q does not exist and parent cannot be resolved: %w", requestedPath, err)
		}
		if !s.isWithinRoot(resolvedParent) {
			return "", fmt.Errorf("discovery: path %q resolves outside sandbox root", requestedPath)
		}
		return absPath, nil
	}

	if !s.isWithinRoot(resolvedPath) {
		return "", fmt.Errorf("discovery: path %q resolves to %q which is outside sandbox root %q",
			requestedPath, resolvedPath, s.resolvedRoot)
	}

	return resolvedPath, nil
}

func (s *Sandbox) isWithinRoot(resolvedPath string) bool {
	if resolvedPath == s.resolvedRoot {
		return true
	}
	return strings.HasPrefix(resolvedPath, s.resolvedRoot+string(filepath.Separator))
}
