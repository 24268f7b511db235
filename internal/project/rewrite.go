package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/graymoon-build/graymoon/internal/protocol"
)

// ApplyUpdates rewrites package reference versions in place across the
// descriptors of a repository. Each update names a project and a
// (packageId, version) pair; only entries whose recorded version actually
// differs are written, so repeating the same updates reports zero changes.
func ApplyUpdates(repoPath string, updates []protocol.DependencyUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	projects, err := Discover(repoPath)
	if err != nil {
		return 0, fmt.Errorf("discovering projects: %w", err)
	}

	byProject := make(map[string]string, len(projects))
	for _, p := range projects {
		byProject[p.Name] = p.RelativePath
	}

	updated := 0
	for _, u := range updates {
		rel, ok := byProject[u.ProjectName]
		if !ok {
			return updated, fmt.Errorf("project %q not found in %s", u.ProjectName, repoPath)
		}

		path := filepath.Join(repoPath, filepath.FromSlash(rel))
		changed, err := rewriteReference(path, u.PackageID, u.Version)
		if err != nil {
			return updated, fmt.Errorf("updating %s: %w", rel, err)
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}

// rewriteReference sets the version of one package reference inside a
// descriptor file, preserving the file's formatting for all other content.
func rewriteReference(path, packageID, version string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	refs := gjson.GetBytes(data, "packageReferences").Array()
	index := -1
	for i, ref := range refs {
		if strings.EqualFold(ref.Get("id").String(), packageID) {
			index = i
			break
		}
	}
	if index < 0 {
		return false, fmt.Errorf("package reference %q not declared", packageID)
	}

	if refs[index].Get("version").String() == version {
		return false, nil
	}

	out, err := sjson.SetBytes(data, fmt.Sprintf("packageReferences.%d.version", index), version)
	if err != nil {
		return false, fmt.Errorf("rewriting reference: %w", err)
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
