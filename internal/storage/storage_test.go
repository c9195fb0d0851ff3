package storage

import (
	"bytes"
	"testing"
)

func openTestStore(t *testing.T, compress bool) *Store {
	t.Helper()
	s, err := Open(":memory:", compress)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoadDocumentUncompressed(t *testing.T) {
	s := openTestStore(t, false)
	data := []byte("test document data")

	if err := s.SaveDocument("proj1", data); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	loaded, ok, err := s.LoadDocument("proj1")
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if !ok {
		t.Fatal("LoadDocument: not found")
	}
	if !bytes.Equal(loaded, data) {
		t.Errorf("loaded = %q, want %q", loaded, data)
	}
}

func TestSaveLoadDocumentCompressed(t *testing.T) {
	s := openTestStore(t, true)
	data := bytes.Repeat([]byte("hello world "), 200)

	if err := s.SaveDocument("proj1", data); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	loaded, ok, err := s.LoadDocument("proj1")
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if !ok || !bytes.Equal(loaded, data) {
		t.Fatalf("round trip mismatch: ok=%v len=%d want=%d", ok, len(loaded), len(data))
	}
}

func TestLoadDocumentNotFound(t *testing.T) {
	s := openTestStore(t, false)
	_, ok, err := s.LoadDocument("nonexistent")
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if ok {
		t.Error("expected not found")
	}
}

func TestMetadataSaveLoadAndList(t *testing.T) {
	s := openTestStore(t, false)
	meta := DocumentMetadata{ProjectID: "p1", Name: "My Project", CreatedAt: 1000, UpdatedAt: 1000, OwnerID: "user-1"}
	if err := s.SaveMetadata(meta); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}

	got, ok, err := s.GetMetadata("p1")
	if err != nil || !ok {
		t.Fatalf("GetMetadata: %v, %v", got, err)
	}
	if got.Name != "My Project" || got.OwnerID != "user-1" {
		t.Errorf("got %+v", got)
	}

	if err := s.SaveMetadata(DocumentMetadata{ProjectID: "p2", Name: "Other", CreatedAt: 2000, UpdatedAt: 2000}); err != nil {
		t.Fatalf("SaveMetadata p2: %v", err)
	}
	list, err := s.ListDocuments()
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("ListDocuments returned %d entries, want 2", len(list))
	}
}

func TestSaveDocumentRefreshesMetadataSize(t *testing.T) {
	s := openTestStore(t, false)
	if err := s.SaveMetadata(DocumentMetadata{ProjectID: "p1", Name: "p", CreatedAt: 1, UpdatedAt: 1}); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}
	if err := s.SaveDocument("p1", []byte("0123456789")); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	meta, ok, err := s.GetMetadata("p1")
	if err != nil || !ok {
		t.Fatalf("GetMetadata: %v %v", ok, err)
	}
	if meta.SizeBytes != 10 {
		t.Errorf("SizeBytes = %d, want 10", meta.SizeBytes)
	}
}

func TestChangesSinceAndLatestSeq(t *testing.T) {
	s := openTestStore(t, false)
	for i := uint64(1); i <= 5; i++ {
		c := ChangeRecord{Seq: i, Data: []byte{byte(i)}, Timestamp: 100, ActorID: "user-1"}
		if err := s.SaveChange("proj", c); err != nil {
			t.Fatalf("SaveChange(%d): %v", i, err)
		}
	}

	changes, err := s.LoadChangesSince("proj", 3)
	if err != nil {
		t.Fatalf("LoadChangesSince: %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("LoadChangesSince returned %d, want 3 (seq 3,4,5)", len(changes))
	}
	for i, c := range changes {
		if c.Seq != uint64(3+i) {
			t.Errorf("changes[%d].Seq = %d, want %d", i, c.Seq, 3+i)
		}
	}

	latest, err := s.GetLatestSeq("proj")
	if err != nil {
		t.Fatalf("GetLatestSeq: %v", err)
	}
	if latest != 5 {
		t.Errorf("GetLatestSeq = %d, want 5", latest)
	}
}

func TestCompactChangesKeepsOnlyRecent(t *testing.T) {
	s := openTestStore(t, false)
	for i := uint64(1); i <= 10; i++ {
		s.SaveChange("proj", ChangeRecord{Seq: i, Data: []byte{1}, Timestamp: 100})
	}
	removed, err := s.CompactChanges("proj", 3)
	if err != nil {
		t.Fatalf("CompactChanges: %v", err)
	}
	if removed != 7 {
		t.Errorf("removed = %d, want 7", removed)
	}
	remaining, err := s.LoadChangesSince("proj", 0)
	if err != nil {
		t.Fatalf("LoadChangesSince: %v", err)
	}
	if len(remaining) != 3 {
		t.Fatalf("remaining = %d, want 3", len(remaining))
	}
	if remaining[0].Seq != 8 || remaining[2].Seq != 10 {
		t.Errorf("kept the wrong changes: %+v", remaining)
	}
}

func TestSyncStateRoundTrip(t *testing.T) {
	s := openTestStore(t, false)
	state := []byte{1, 2, 3, 4}

	if err := s.SaveSyncState("proj", "peer-1", state); err != nil {
		t.Fatalf("SaveSyncState: %v", err)
	}
	loaded, ok, err := s.LoadSyncState("proj", "peer-1")
	if err != nil || !ok || !bytes.Equal(loaded, state) {
		t.Fatalf("LoadSyncState: %v, %v, %v", loaded, ok, err)
	}

	if err := s.RemoveSyncState("proj", "peer-1"); err != nil {
		t.Fatalf("RemoveSyncState: %v", err)
	}
	_, ok, err = s.LoadSyncState("proj", "peer-1")
	if err != nil {
		t.Fatalf("LoadSyncState after remove: %v", err)
	}
	if ok {
		t.Error("sync state still present after remove")
	}
}

func TestDeleteDocumentRemovesEverything(t *testing.T) {
	s := openTestStore(t, false)
	s.SaveDocument("proj", []byte("data"))
	s.SaveMetadata(DocumentMetadata{ProjectID: "proj", Name: "Test", CreatedAt: 1, UpdatedAt: 1})
	s.SaveChange("proj", ChangeRecord{Seq: 1, Data: []byte{1}, Timestamp: 1})
	s.SaveSyncState("proj", "peer-1", []byte{1})

	exists, err := s.DocumentExists("proj")
	if err != nil || !exists {
		t.Fatalf("precondition: DocumentExists = %v, %v", exists, err)
	}

	if err := s.DeleteDocument("proj"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	exists, _ = s.DocumentExists("proj")
	if exists {
		t.Error("document still exists after delete")
	}
	if _, ok, _ := s.GetMetadata("proj"); ok {
		t.Error("metadata still exists after delete")
	}
	changes, _ := s.LoadChangesSince("proj", 0)
	if len(changes) != 0 {
		t.Error("changes still exist after delete")
	}
	if _, ok, _ := s.LoadSyncState("proj", "peer-1"); ok {
		t.Error("sync state still exists after delete")
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t, false)
	s.SaveDocument("proj", []byte("data"))
	s.SaveMetadata(DocumentMetadata{ProjectID: "proj", Name: "Test", CreatedAt: 1, UpdatedAt: 1})
	s.SaveChange("proj", ChangeRecord{Seq: 1, Data: []byte{1}, Timestamp: 1})
	s.SaveSyncState("proj", "peer-1", []byte{1})

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DocumentCount != 1 || stats.MetadataCount != 1 || stats.ChangeCount != 1 || stats.SyncStateCount != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}
