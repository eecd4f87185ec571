package home

import (
	"path/filepath"
	"testing"
)

func TestDirLayout(t *testing.T) {
	root := t.TempDir()
	d, err := New(root)
	if err != nil {
		t.Fatal(err)
	}

	if d.Path() != root {
		t.Errorf("path: expected %q, got %q", root, d.Path())
	}
	if got := d.ConfigPath(); got != filepath.Join(root, "config.yaml") {
		t.Errorf("config path: got %q", got)
	}
	if got := PageAudioName(7); got != "page_0007.wav" {
		t.Errorf("page audio name: got %q", got)
	}
	if got := DocumentAudioName("doc"); got != "doc.wav" {
		t.Errorf("document audio name: got %q", got)
	}
	if got := d.PageAudioPath("doc", 7); got != filepath.Join(root, "exports", "doc", "page_0007.wav") {
		t.Errorf("page audio path: got %q", got)
	}
	if got := d.ManifestPath("doc"); got != filepath.Join(root, "exports", "doc", ManifestFileName) {
		t.Errorf("manifest path: got %q", got)
	}
	if got := d.DocumentAudioPath("doc"); got != filepath.Join(root, "exports", "doc", "doc.wav") {
		t.Errorf("document audio path: got %q", got)
	}

	if d.ConfigExists() {
		t.Error("config should not exist yet")
	}
	if err := d.EnsureExists(); err != nil {
		t.Fatal(err)
	}
	if err := d.EnsureDocumentExportDir("doc"); err != nil {
		t.Fatal(err)
	}
}
