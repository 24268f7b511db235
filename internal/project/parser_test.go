package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/graymoon-build/graymoon/internal/protocol"
	"github.com/graymoon-build/graymoon/pkg/types"
)

func writeDescriptor(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", rel, err)
	}
}

func TestDiscoverSkipsExcludedDirs(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "src/App/App.project.json", `{"name":"App","kind":"Executable"}`)
	writeDescriptor(t, root, "src/Lib/Lib.project.json", `{"name":"Lib","kind":"Package","packageId":"Acme.Lib"}`)
	writeDescriptor(t, root, "bin/Stale/Stale.project.json", `{"name":"Stale"}`)
	writeDescriptor(t, root, "src/App/obj/Gen.project.json", `{"name":"Gen"}`)
	writeDescriptor(t, root, "node_modules/dep/dep.project.json", `{"name":"dep"}`)
	writeDescriptor(t, root, "src/App/notes.json", `{"name":"not a descriptor"}`)

	found, err := Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 projects, got %d: %+v", len(found), found)
	}
	// Ordered by relative path.
	if found[0].Name != "App" || found[1].Name != "Lib" {
		t.Errorf("unexpected order: %q, %q", found[0].Name, found[1].Name)
	}
	if found[1].PackageID != "Acme.Lib" {
		t.Errorf("expected packageId carried through, got %q", found[1].PackageID)
	}
}

func TestDiscoverRejectsInvalidDescriptor(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "src/Bad/Bad.project.json", `{"name": "Bad"`)

	if _, err := Discover(root); err == nil {
		t.Fatal("expected an error for a malformed descriptor")
	}
}

func TestParseDefaults(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		rel      string
		wantName string
		wantKind types.ProjectKind
	}{
		{
			name:     "explicit fields",
			data:     `{"name":"Svc","kind":"Service"}`,
			rel:      "src/Svc/Svc.project.json",
			wantName: "Svc",
			wantKind: types.ProjectKindService,
		},
		{
			name:     "name falls back to file name",
			data:     `{"kind":"Test"}`,
			rel:      "test/Api.Tests/Api.Tests.project.json",
			wantName: "Api.Tests",
			wantKind: types.ProjectKindTest,
		},
		{
			name:     "unknown kind becomes library",
			data:     `{"name":"X","kind":"Banana"}`,
			rel:      "x/X.project.json",
			wantName: "X",
			wantKind: types.ProjectKindLibrary,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info, err := Parse([]byte(tc.data), tc.rel)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if info.Name != tc.wantName {
				t.Errorf("name: got %q, want %q", info.Name, tc.wantName)
			}
			if info.Kind != tc.wantKind {
				t.Errorf("kind: got %q, want %q", info.Kind, tc.wantKind)
			}
		})
	}
}

func TestParsePackageReferences(t *testing.T) {
	data := `{
		"name": "App",
		"kind": "Executable",
		"targetFramework": "net9.0",
		"packageReferences": [
			{"id": "Acme.Lib", "version": "1.2.3"},
			{"version": "9.9.9"},
			{"id": "Acme.Core", "version": "2.0.0", "extra": true}
		]
	}`
	info, err := Parse([]byte(data), "src/App/App.project.json")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if info.TargetFramework != "net9.0" {
		t.Errorf("targetFramework: got %q", info.TargetFramework)
	}
	want := []protocol.PackageReference{
		{ID: "Acme.Lib", Version: "1.2.3"},
		{ID: "Acme.Core", Version: "2.0.0"},
	}
	if len(info.PackageReferences) != len(want) {
		t.Fatalf("expected %d references, got %+v", len(want), info.PackageReferences)
	}
	for i, ref := range info.PackageReferences {
		if ref != want[i] {
			t.Errorf("reference %d: got %+v, want %+v", i, ref, want[i])
		}
	}
}
