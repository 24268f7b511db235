package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/graymoon-build/graymoon/internal/protocol"
)

const appDescriptor = `{
	"name": "App",
	"kind": "Executable",
	"packageReferences": [
		{"id": "Acme.Lib", "version": "1.0.0"},
		{"id": "Acme.Core", "version": "2.0.0"}
	]
}`

func TestApplyUpdatesRewritesVersion(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "src/App/App.project.json", appDescriptor)

	updates := []protocol.DependencyUpdate{
		{ProjectName: "App", PackageID: "acme.lib", Version: "1.1.0"},
	}
	n, err := ApplyUpdates(root, updates)
	if err != nil {
		t.Fatalf("ApplyUpdates: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 update, got %d", n)
	}

	data, err := os.ReadFile(filepath.Join(root, "src/App/App.project.json"))
	if err != nil {
		t.Fatalf("reading descriptor: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, `"version": "1.1.0"`) {
		t.Errorf("updated version not written:\n%s", text)
	}
	if !strings.Contains(text, `"version": "2.0.0"`) {
		t.Errorf("unrelated reference was touched:\n%s", text)
	}
	// The rewrite is surgical; surrounding formatting survives.
	if !strings.Contains(text, "\n\t\"name\": \"App\",") {
		t.Errorf("formatting not preserved:\n%s", text)
	}
}

func TestApplyUpdatesIdempotent(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "src/App/App.project.json", appDescriptor)

	updates := []protocol.DependencyUpdate{
		{ProjectName: "App", PackageID: "Acme.Lib", Version: "1.1.0"},
		{ProjectName: "App", PackageID: "Acme.Core", Version: "2.1.0"},
	}
	if n, err := ApplyUpdates(root, updates); err != nil || n != 2 {
		t.Fatalf("first pass: n=%d err=%v", n, err)
	}
	if n, err := ApplyUpdates(root, updates); err != nil || n != 0 {
		t.Fatalf("second pass should be a no-op: n=%d err=%v", n, err)
	}
}

func TestApplyUpdatesUnknownProject(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "src/App/App.project.json", appDescriptor)

	_, err := ApplyUpdates(root, []protocol.DependencyUpdate{
		{ProjectName: "Ghost", PackageID: "Acme.Lib", Version: "1.1.0"},
	})
	if err == nil || !strings.Contains(err.Error(), "Ghost") {
		t.Fatalf("expected unknown-project error, got %v", err)
	}
}

func TestApplyUpdatesUndeclaredReference(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "src/App/App.project.json", appDescriptor)

	_, err := ApplyUpdates(root, []protocol.DependencyUpdate{
		{ProjectName: "App", PackageID: "Acme.Missing", Version: "1.0.0"},
	})
	if err == nil || !strings.Contains(err.Error(), "not declared") {
		t.Fatalf("expected undeclared-reference error, got %v", err)
	}
}
