package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSizeLimitedWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settlement.log")
	writer, err := newSizeLimitedWriter(path, 1)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	defer writer.Close()

	chunk := make([]byte, 512*1024)
	for i := 0; i < 3; i++ {
		if _, err := writer.Write(chunk); err != nil {
			t.Fatalf("write chunk %d: %v", i, err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat log: %v", err)
	}
	if info.Size() > 1024*1024 {
		t.Fatalf("expected log <= 1MB, got %d", info.Size())
	}
	backup, err := os.Stat(path + ".1")
	if err != nil {
		t.Fatalf("stat backup: %v", err)
	}
	if backup.Size() != 1024*1024 {
		t.Fatalf("expected 1MB backup, got %d", backup.Size())
	}
}

func TestSizeLimitedWriterReopensAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlement.log")
	writer, err := newSizeLimitedWriter(path, 1)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := writer.Write([]byte("after close\n")); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	_ = writer.Close()
	raw, err := os.ReadFile(path)
	if err != nil || string(raw) != "after close\n" {
		t.Fatalf("unexpected contents %q err=%v", raw, err)
	}
}
