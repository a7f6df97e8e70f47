package main

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestSplitSectionPath(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantSection string
		wantRel     string
	}{
		{"simple file", "store/swarm.db", "store", "swarm.db"},
		{"nested path", "workflows/ops/deploy.yaml", "workflows", "ops/deploy.yaml"},
		{"directory with slash", "memory/archive/", "memory", "archive"},
		{"section root dir", "memory/", "memory", "."},
		{"section bare name", "workflows", "workflows", "."},
		{"leading dot-slash", "./store/swarm.db", "store", "swarm.db"},
		{"leading slash", "/memory/session-ab12.json", "memory", "session-ab12.json"},
		{"unknown section", "other/file.txt", "", ""},
		{"escaping path", "memory/../../etc/passwd", "", ""},
		{"parent prefix", "../store/swarm.db", "store", "swarm.db"},
		{"empty string", "", "", ""},
		{"just a slash", "/", "", ""},
		{"dot only", ".", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSection, gotRel := splitSectionPath(tt.input)
			if gotSection != tt.wantSection {
				t.Errorf("splitSectionPath(%q) section = %q, want %q", tt.input, gotSection, tt.wantSection)
			}
			if gotRel != tt.wantRel {
				t.Errorf("splitSectionPath(%q) rel = %q, want %q", tt.input, gotRel, tt.wantRel)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
		{1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

// createTestArchive builds a zstd-compressed tar with the given entries.
func createTestArchive(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tar.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}

	tw := tar.NewWriter(zw)
	for name, content := range entries {
		hdr := &tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	zw.Close()

	return path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanArchive(t *testing.T) {
	archivePath := createTestArchive(t, map[string]string{
		"store/swarm.db":              "data",
		"memory/session-1.json":       "{}",
		"workflows/deploy.yaml":       "name: deploy",
		"other-volume/file.txt":       "ignored",
		"memory/../../escape.txt":     "ignored",
		"workflows/ops/rollback.yaml": "name: rollback",
	})

	entries, err := scanArchive(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d: %v", len(entries), entries)
	}

	found := make(map[archiveEntry]bool)
	for _, e := range entries {
		found[e] = true
	}
	for _, want := range []archiveEntry{
		{"store", "swarm.db"},
		{"memory", "session-1.json"},
		{"workflows", "deploy.yaml"},
		{"workflows", "ops/rollback.yaml"},
	} {
		if !found[want] {
			t.Errorf("expected entry %v not found in %v", want, entries)
		}
	}
}

func TestScanArchive_InvalidFile(t *testing.T) {
	if _, err := scanArchive("/nonexistent/file.tar.zst"); err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestScanArchive_InvalidZstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.zst")
	os.WriteFile(path, []byte("not zstd data"), 0644)

	if _, err := scanArchive(path); err == nil {
		t.Fatal("expected error for invalid zstd data")
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "store", "swarm.db"), "sqlite-data")
	writeFile(t, filepath.Join(src, "memory", "session-ab12.json"), `{"id":"ab12"}`)
	writeFile(t, filepath.Join(src, "workflows", "ops", "deploy.yaml"), "name: deploy")

	archive := filepath.Join(t.TempDir(), "roundtrip.tar.zst")
	files, err := writeArchive(archive, map[string]string{
		sectionStore:     filepath.Join(src, "store"),
		sectionMemory:    filepath.Join(src, "memory"),
		sectionWorkflows: filepath.Join(src, "workflows"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if files != 3 {
		t.Fatalf("expected 3 files written, got %d", files)
	}

	dst := t.TempDir()
	dirs := map[string]string{
		sectionStore:     filepath.Join(dst, "data"),
		sectionMemory:    filepath.Join(dst, "data", "memory"),
		sectionWorkflows: filepath.Join(dst, "workflows"),
	}
	// Stale WAL next to the restored database must be dropped.
	writeFile(t, filepath.Join(dst, "data", "swarm.db-wal"), "stale")

	files, err = restoreArchive(archive, dirs, false)
	if err != nil {
		t.Fatal(err)
	}
	if files != 3 {
		t.Fatalf("expected 3 files restored, got %d", files)
	}

	for path, want := range map[string]string{
		filepath.Join(dst, "data", "swarm.db"):                   "sqlite-data",
		filepath.Join(dst, "data", "memory", "session-ab12.json"): `{"id":"ab12"}`,
		filepath.Join(dst, "workflows", "ops", "deploy.yaml"):     "name: deploy",
	} {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("read %s: %v", path, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
	if _, err := os.Stat(filepath.Join(dst, "data", "swarm.db-wal")); !os.IsNotExist(err) {
		t.Errorf("expected stale WAL to be removed, stat err = %v", err)
	}
}

func TestRestoreRefusesExistingFiles(t *testing.T) {
	archive := createTestArchive(t, map[string]string{
		"workflows/deploy.yaml": "name: new",
		"memory/session-1.json": "{}",
	})

	dst := t.TempDir()
	dirs := map[string]string{
		sectionMemory:    filepath.Join(dst, "memory"),
		sectionWorkflows: filepath.Join(dst, "workflows"),
	}
	writeFile(t, filepath.Join(dst, "workflows", "deploy.yaml"), "name: old")

	if _, err := restoreArchive(archive, dirs, false); err == nil {
		t.Fatal("expected error without overwrite")
	}
	// Nothing may be written when the restore is refused.
	if _, err := os.Stat(filepath.Join(dst, "memory", "session-1.json")); !os.IsNotExist(err) {
		t.Errorf("expected no partial restore, stat err = %v", err)
	}

	files, err := restoreArchive(archive, dirs, true)
	if err != nil {
		t.Fatal(err)
	}
	if files != 2 {
		t.Fatalf("expected 2 files restored, got %d", files)
	}
	got, _ := os.ReadFile(filepath.Join(dst, "workflows", "deploy.yaml"))
	if string(got) != "name: new" {
		t.Errorf("expected overwritten workflow, got %q", got)
	}
}
