package vcs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureWorkspaceDir creates the workspace directory if it does not exist.
// Idempotent: an existing directory is left untouched.
func EnsureWorkspaceDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating workspace %s: %w", path, err)
	}
	return path, nil
}

// WorkspaceExists reports whether the workspace directory is present.
func WorkspaceExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ListWorkspaceRepositories scans the immediate children of a workspace
// root for git working copies and returns their directory names with
// origin URLs (credentials stripped).
func ListWorkspaceRepositories(root string) (names, origins []string, err error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, fmt.Errorf("reading workspace %s: %w", root, err)
	}

	g := &GoGitExecutor{}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if !g.IsCloned(path) {
			continue
		}
		origin, err := g.OriginURL(path)
		if err != nil {
			origin = ""
		}
		names = append(names, entry.Name())
		origins = append(origins, origin)
	}
	return names, origins, nil
}

// AddSafeDirectory registers path as a git safe.directory in the user's
// global gitconfig. Idempotent: returns false when the entry already
// exists. Required when working copies are owned by a different UID than
// the agent process (git 2.35.2+ ownership check).
func AddSafeDirectory(path string) (bool, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return false, fmt.Errorf("resolving home dir: %w", err)
	}
	cfgPath := filepath.Join(home, ".gitconfig")

	existing, err := os.ReadFile(cfgPath)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("reading %s: %w", cfgPath, err)
	}

	entry := "\tdirectory = " + path + "\n"
	if strings.Contains(string(existing), entry) {
		return false, nil
	}

	// Git merges repeated sections, so appending a fresh [safe] block is
	// always valid.
	content := string(existing) + "[safe]\n" + entry

	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", cfgPath, err)
	}
	return true, nil
}
