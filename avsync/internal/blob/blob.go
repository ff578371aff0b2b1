// Package blob stores report files content-addressed on the local
// filesystem: <root>/documents/<ab>/<fingerprint>.pdf, where fingerprint is
// the hex SHA-256 of the bytes and <ab> its first two characters.
//
// Files are written atomically (write .tmp then rename) so a reader never sees
// a partial document, and are never rewritten once present. Each file gets a
// YAML sidecar (<fingerprint>.yaml) describing where it came from.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/avreports/horosafe"
	"github.com/hazyhaar/avreports/idgen"
)

// Metadata is the sidecar written next to each document.
type Metadata struct {
	Fingerprint  string    `yaml:"fingerprint"`
	SizeBytes    int64     `yaml:"size_bytes"`
	ContentType  string    `yaml:"content_type"`
	SourceURL    string    `yaml:"source_url"`
	EntryKey     string    `yaml:"entry_key"`
	DownloadedAt time.Time `yaml:"downloaded_at"`
}

// Stored describes the outcome of Put.
type Stored struct {
	Fingerprint string
	SizeBytes   int64
	// Path is relative to the store root, slash separated.
	Path string
	// Created is false when the file already existed.
	Created bool
}

// Store writes documents under a root directory.
type Store struct {
	root  string
	tmpID func() string
}

// New creates a Store rooted at dir. Directories are created on first write.
func New(dir string) *Store {
	return &Store{root: dir, tmpID: idgen.NanoID(8)}
}

// Fingerprint returns the hex SHA-256 of data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RelPath returns the slash-separated path of a fingerprint relative to the root.
func RelPath(fingerprint string) string {
	return "documents/" + fingerprint[:2] + "/" + fingerprint + ".pdf"
}

// Put stores data unless a file with the same fingerprint exists.
func (s *Store) Put(ctx context.Context, data []byte, meta Metadata) (*Stored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fp := Fingerprint(data)
	out := &Stored{Fingerprint: fp, SizeBytes: int64(len(data)), Path: RelPath(fp)}

	target, err := s.abs(fp)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(target); err == nil {
		return out, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob: stat %s: %w", fp, err)
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: mkdir %s: %w", dir, err)
	}
	if err := writeAtomic(target, data, s.tmpID()); err != nil {
		return nil, err
	}

	meta.Fingerprint = fp
	meta.SizeBytes = out.SizeBytes
	if meta.DownloadedAt.IsZero() {
		meta.DownloadedAt = time.Now()
	}
	meta.DownloadedAt = meta.DownloadedAt.UTC()
	side, err := yaml.Marshal(&meta)
	if err != nil {
		return nil, fmt.Errorf("blob: marshal metadata: %w", err)
	}
	sidecar := target[:len(target)-len(".pdf")] + ".yaml"
	if err := writeAtomic(sidecar, side, s.tmpID()); err != nil {
		return nil, err
	}

	out.Created = true
	return out, nil
}

// Get reads a stored document.
func (s *Store) Get(fingerprint string) ([]byte, error) {
	p, err := s.abs(fingerprint)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", fingerprint, err)
	}
	return data, nil
}

// Meta reads the sidecar of a stored document.
func (s *Store) Meta(fingerprint string) (*Metadata, error) {
	p, err := s.abs(fingerprint)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p[:len(p)-len(".pdf")] + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("blob: read metadata %s: %w", fingerprint, err)
	}
	var m Metadata
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("blob: parse metadata %s: %w", fingerprint, err)
	}
	return &m, nil
}

func (s *Store) abs(fingerprint string) (string, error) {
	if !horosafe.IsHexDigest(fingerprint, sha256.Size*2) {
		return "", fmt.Errorf("blob: invalid fingerprint %q", fingerprint)
	}
	return horosafe.SafePath(s.root, RelPath(fingerprint))
}

func writeAtomic(target string, data []byte, suffix string) error {
	tmp := target + "." + suffix + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("blob: write tmp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("blob: rename: %w", err)
	}
	return nil
}
