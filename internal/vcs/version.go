package vcs

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// CalculateVersion derives the repository's semantic version from its tags:
// the highest semver tag reachable from HEAD when HEAD is tagged, otherwise
// that tag with the patch bumped and a -dev.<height> prerelease, where
// height is the commit distance from the tag. Repositories with no semver
// tags report 0.1.0-dev.<height from root>.
func CalculateVersion(path string) (string, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("opening repo at %s: %w", path, err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}

	tags, err := semverTags(repo)
	if err != nil {
		return "", err
	}

	if v, ok := tags[head.Hash()]; ok {
		return v.String(), nil
	}

	// Walk back from HEAD looking for the nearest tagged ancestor.
	headCommit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return "", fmt.Errorf("loading HEAD commit: %w", err)
	}

	var (
		base   *semver.Version
		height int
	)
	iter := object.NewCommitIterCTime(headCommit, nil, nil)
	err = iter.ForEach(func(c *object.Commit) error {
		if v, ok := tags[c.Hash]; ok && c.Hash != head.Hash() {
			if base == nil || v.GreaterThan(base) {
				base = v
			}
			return storer.ErrStop // nearest tagged ancestor found
		}
		height++
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking history: %w", err)
	}

	if base == nil {
		return fmt.Sprintf("0.1.0-dev.%d", height), nil
	}
	next := base.IncPatch()
	return fmt.Sprintf("%s-dev.%d", next.String(), height), nil
}

// semverTags maps target commit hashes to parsed semver tag values,
// keeping the highest version when several tags share a commit. Annotated
// tags are dereferenced to the tagged commit.
func semverTags(repo *gogit.Repository) (map[plumbing.Hash]*semver.Version, error) {
	tags, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}

	out := make(map[plumbing.Hash]*semver.Version)
	err = tags.ForEach(func(ref *plumbing.Reference) error {
		name := strings.TrimPrefix(ref.Name().Short(), "v")
		v, err := semver.StrictNewVersion(name)
		if err != nil {
			return nil // not a semver tag, skip
		}

		target := ref.Hash()
		if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
			target = tagObj.Target
		}

		if existing, ok := out[target]; !ok || v.GreaterThan(existing) {
			out[target] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
