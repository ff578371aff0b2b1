package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestPut_CreatesFileAndSidecar(t *testing.T) {
	// WHAT: Put writes the document at its content address plus a YAML sidecar.
	// WHY: The documents table points at this path.
	dir := t.TempDir()
	s := New(dir)
	data := []byte("%PDF-1.4 test body")

	got, err := s.Put(context.Background(), data, Metadata{
		SourceURL:    "https://example.test/file/waymo-pdf/",
		EntryKey:     "waymo|2025|waymo-pdf",
		ContentType:  "application/pdf",
		DownloadedAt: time.Date(2025, 9, 4, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !got.Created || got.SizeBytes != int64(len(data)) {
		t.Fatalf("stored = %+v", got)
	}
	want := "documents/" + got.Fingerprint[:2] + "/" + got.Fingerprint + ".pdf"
	if got.Path != want {
		t.Fatalf("path = %q, want %q", got.Path, want)
	}

	onDisk, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(got.Path)))
	if err != nil || string(onDisk) != string(data) {
		t.Fatalf("file content mismatch: %v", err)
	}

	meta, err := s.Meta(got.Fingerprint)
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.EntryKey != "waymo|2025|waymo-pdf" || meta.SizeBytes != int64(len(data)) || meta.Fingerprint != got.Fingerprint {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestPut_SameBytesWritesNothing(t *testing.T) {
	// WHAT: Storing identical bytes twice leaves the first file and sidecar untouched.
	dir := t.TempDir()
	s := New(dir)
	data := []byte("%PDF-1.4 same")

	first, err := s.Put(context.Background(), data, Metadata{EntryKey: "a"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Put(context.Background(), data, Metadata{EntryKey: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Created || second.Fingerprint != first.Fingerprint {
		t.Fatalf("second put = %+v", second)
	}
	meta, _ := s.Meta(first.Fingerprint)
	if meta.EntryKey != "a" {
		t.Fatalf("sidecar rewritten: entry %q", meta.EntryKey)
	}
}

func TestPut_Concurrent(t *testing.T) {
	// WHAT: Concurrent writers of the same bytes leave exactly one intact file and no temp files.
	dir := t.TempDir()
	s := New(dir)
	data := []byte(strings.Repeat("x", 4096))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Put(context.Background(), data, Metadata{}); err != nil {
				t.Errorf("put: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(Fingerprint(data))
	if err != nil || len(got) != len(data) {
		t.Fatalf("get: len=%d err=%v", len(got), err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "documents", "*", "*.tmp"))
	if len(matches) != 0 {
		t.Fatalf("temp files left: %v", matches)
	}
}

func TestGet_RejectsBadFingerprint(t *testing.T) {
	s := New(t.TempDir())
	for _, fp := range []string{"", "../../etc/passwd", "ABC"} {
		if _, err := s.Get(fp); err == nil {
			t.Errorf("Get(%q): expected error", fp)
		}
	}
}

func TestPut_CancelledContext(t *testing.T) {
	s := New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, []byte("x"), Metadata{}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
