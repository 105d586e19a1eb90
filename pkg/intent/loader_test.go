package intent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const multiDocYAML = `kind: budget
name: team-alpha
namespace: platform
labels:
  team: alpha
parameters:
  amount: 500
  notificationEmails:
    - ops@example.com
---
kind: container
name: api-gateway
parameters:
  image: registry.example.com/api:v3
  port: 9090
`

func writeIntentFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadMultiDocument(t *testing.T) {
	docs, err := Load(strings.NewReader(multiDocYAML), "inline")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0].Kind != "budget" || docs[0].Name != "team-alpha" {
		t.Errorf("first document = %s/%s", docs[0].Kind, docs[0].Name)
	}
	if docs[0].Labels["team"] != "alpha" {
		t.Errorf("Labels = %v, want team=alpha", docs[0].Labels)
	}
	if docs[1].Kind != "container" || docs[1].Namespace != "" {
		t.Errorf("second document = %s ns=%q", docs[1].Kind, docs[1].Namespace)
	}
	if port, ok := docs[1].Parameters["port"]; !ok || port != 9090 {
		t.Errorf("port parameter = %v", port)
	}
}

func TestLoadSkipsEmptyDocuments(t *testing.T) {
	docs, err := Load(strings.NewReader("---\n---\nkind: budget\nname: b\nparameters: {}\n"), "inline")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("got %d documents, want 1", len(docs))
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(strings.NewReader("kind: [unclosed"), "inline")
	if err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeIntentFile(t, dir, "intents.yaml", multiDocYAML)

	docs, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("got %d documents, want 2", len(docs))
	}
}

func TestLoadDirOrdersByFilename(t *testing.T) {
	dir := t.TempDir()
	writeIntentFile(t, dir, "20-second.yaml", "kind: container\nname: svc\nparameters:\n  image: img\n")
	writeIntentFile(t, dir, "10-first.yml", "kind: budget\nname: b\nparameters:\n  amount: 1\n")
	writeIntentFile(t, dir, "notes.txt", "not yaml")

	docs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0].Kind != "budget" || docs[1].Kind != "container" {
		t.Errorf("document order = %s, %s", docs[0].Kind, docs[1].Kind)
	}
}

func TestLoadPath(t *testing.T) {
	dir := t.TempDir()
	writeIntentFile(t, dir, "intents.yaml", multiDocYAML)

	docs, err := LoadPath(dir)
	if err != nil {
		t.Fatalf("LoadPath() error = %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("got %d documents, want 2", len(docs))
	}

	if _, err := LoadPath(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing path, got nil")
	}
}
