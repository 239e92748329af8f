package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"
)

func setupTestManifest(t *testing.T) (*Manifest, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test_manifest.sqlite3")
	m, err := OpenManifest(dbPath)
	if err != nil {
		t.Fatalf("Failed to open manifest: %v", err)
	}
	t.Cleanup(func() {
		m.Close()
	})
	return m, dbPath
}

func TestOpenManifestCreatesFile(t *testing.T) {
	m, dbPath := setupTestManifest(t)

	if m.DB == nil {
		t.Fatal("Expected non-nil GORM DB handle")
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("Manifest file was not created at %s", dbPath)
	}
}

func TestOpenManifestCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "manifest.sqlite3")

	m, err := OpenManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected manifest at %s: %v", path, err)
	}
}

func TestManifestRecordAndPending(t *testing.T) {
	m, _ := setupTestManifest(t)
	ctx := context.Background()

	entries := []ManifestEntry{
		{SessionID: "s1", Bucket: BucketUploads, ObjectKey: "a.m4a", Kind: KindRaw, VerseID: "1:1", UserID: "u1"},
		{SessionID: "s1", Bucket: BucketProcessed, ObjectKey: "b.wav", Kind: KindProcessed},
		{SessionID: "s2", Bucket: BucketUploads, ObjectKey: "c.wav", Kind: KindRaw},
	}
	for _, e := range entries {
		if err := m.Record(ctx, e); err != nil {
			t.Fatalf("Record(%s): %v", e.Ref(), err)
		}
	}

	// Duplicate ref is ignored.
	if err := m.Record(ctx, entries[0]); err != nil {
		t.Fatalf("duplicate Record should be a no-op, got %v", err)
	}

	pending, err := m.Pending(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending entries for s1, got %d", len(pending))
	}
	if pending[0].Ref() != (Ref{Bucket: BucketUploads, Key: "a.m4a"}) {
		t.Errorf("Unexpected first entry %+v", pending[0].Ref())
	}
	if pending[0].VerseID != "1:1" || pending[0].UserID != "u1" {
		t.Errorf("Attribution not stored: %+v", pending[0])
	}
}

func TestManifestMarkReclaimed(t *testing.T) {
	m, _ := setupTestManifest(t)
	ctx := context.Background()

	ref := Ref{Bucket: BucketProcessed, Key: "x.wav"}
	m.Record(ctx, ManifestEntry{SessionID: "s", Bucket: ref.Bucket, ObjectKey: ref.Key, Kind: KindProcessed})

	if err := m.MarkReclaimed(ctx, []Ref{ref, {Bucket: "nope", Key: "nope"}}); err != nil {
		t.Fatal(err)
	}

	pending, _ := m.Pending(ctx, "s")
	if len(pending) != 0 {
		t.Errorf("Expected no pending entries after reclaim, got %d", len(pending))
	}

	e, err := m.Lookup(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if e.ReclaimedAt == nil {
		t.Error("ReclaimedAt should be stamped")
	}

	// Marking again keeps the first timestamp and does not fail.
	first := *e.ReclaimedAt
	if err := m.MarkReclaimed(ctx, []Ref{ref}); err != nil {
		t.Fatal(err)
	}
	e, _ = m.Lookup(ctx, ref)
	if !e.ReclaimedAt.Equal(first) {
		t.Errorf("ReclaimedAt changed from %v to %v", first, *e.ReclaimedAt)
	}
}

func TestManifestPendingBefore(t *testing.T) {
	m, _ := setupTestManifest(t)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	m.Record(ctx, ManifestEntry{SessionID: "old", Bucket: BucketUploads, ObjectKey: "old.wav", CreatedAt: old})
	m.Record(ctx, ManifestEntry{SessionID: "new", Bucket: BucketUploads, ObjectKey: "new.wav"})

	rows, err := m.PendingBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ObjectKey != "old.wav" {
		t.Fatalf("Expected only old.wav, got %+v", rows)
	}
}

func TestManifestLookupMissing(t *testing.T) {
	m, _ := setupTestManifest(t)

	_, err := m.Lookup(context.Background(), Ref{Bucket: BucketUploads, Key: "ghost.wav"})
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestNilManifest(t *testing.T) {
	var m *Manifest
	if err := m.Close(); err != nil {
		t.Errorf("Close on nil manifest: %v", err)
	}
	if err := m.Record(context.Background(), ManifestEntry{}); err == nil {
		t.Error("Record on nil manifest should fail")
	}
}
