package project

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/gjson"

	"github.com/graymoon-build/graymoon/internal/protocol"
	"github.com/graymoon-build/graymoon/pkg/types"
)

// DescriptorSuffix is the file name suffix of a project descriptor.
const DescriptorSuffix = ".project.json"

// defaultExcludes are directories never scanned for descriptors.
var defaultExcludes = []string{
	"**/.git/**",
	"**/bin/**",
	"**/obj/**",
	"**/node_modules/**",
}

// Discover walks a repository working copy and parses every project
// descriptor found outside the exclude set. Results are ordered by
// relative path so repeated scans of an unchanged tree are identical.
func Discover(repoPath string) ([]protocol.ProjectInfo, error) {
	var found []protocol.ProjectInfo

	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(repoPath, path)
		if relErr != nil {
			return relErr
		}

		if d.IsDir() {
			if shouldExclude(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !strings.HasSuffix(d.Name(), DescriptorSuffix) || shouldExclude(rel) {
			return nil
		}

		info, parseErr := ParseFile(path, filepath.ToSlash(rel))
		if parseErr != nil {
			return fmt.Errorf("parsing %s: %w", rel, parseErr)
		}
		found = append(found, info)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool { return found[i].RelativePath < found[j].RelativePath })
	return found, nil
}

// shouldExclude checks a slash-normalized relative path against the
// exclude globs.
func shouldExclude(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pattern := range defaultExcludes {
		matched, err := doublestar.Match(pattern, relPath)
		if err == nil && matched {
			return true
		}
	}
	return false
}

// ParseFile reads one descriptor and extracts the project contract fields.
// Unknown descriptor fields are ignored.
func ParseFile(path, relPath string) (protocol.ProjectInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.ProjectInfo{}, err
	}
	return Parse(data, relPath)
}

// Parse extracts project metadata from descriptor JSON.
func Parse(data []byte, relPath string) (protocol.ProjectInfo, error) {
	if !gjson.ValidBytes(data) {
		return protocol.ProjectInfo{}, fmt.Errorf("descriptor is not valid JSON")
	}

	root := gjson.ParseBytes(data)

	name := root.Get("name").String()
	if name == "" {
		// Fall back to the file name without the descriptor suffix.
		name = strings.TrimSuffix(filepath.Base(relPath), DescriptorSuffix)
	}

	kind := types.ProjectKind(root.Get("kind").String())
	if !types.KnownProjectKind(kind) {
		kind = types.ProjectKindLibrary
	}

	info := protocol.ProjectInfo{
		Name:            name,
		Kind:            kind,
		RelativePath:    relPath,
		TargetFramework: root.Get("targetFramework").String(),
		PackageID:       root.Get("packageId").String(),
	}

	for _, ref := range root.Get("packageReferences").Array() {
		id := ref.Get("id").String()
		if id == "" {
			continue
		}
		info.PackageReferences = append(info.PackageReferences, protocol.PackageReference{
			ID:      id,
			Version: ref.Get("version").String(),
		})
	}

	return info, nil
}
