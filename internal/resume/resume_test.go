package resume

import (
	"testing"
	"time"
)

func testState(id byte) *State {
	var transferID, peerID, root [32]byte
	transferID[0] = id
	return &State{
		TransferID:      transferID,
		PeerID:          peerID,
		RootHash:        root,
		FileSize:        1000,
		ChunkSize:       100,
		TotalChunks:     10,
		CompletedChunks: make([]bool, 10),
		FilePath:        "/tmp/whatever.bin",
		Direction:       DirectionReceive,
		CreatedAt:       time.Now(),
		LastActive:      time.Now(),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s := testState(1)
	s.CompletedChunks[2] = true
	s.CompletedChunks[5] = true
	if err := st.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := st.Load(s.TransferID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.TotalChunks != s.TotalChunks || got.FileSize != s.FileSize {
		t.Fatalf("loaded record mismatch: %+v", got)
	}
	if !got.CompletedChunks[2] || !got.CompletedChunks[5] || got.CompletedChunks[0] {
		t.Fatalf("completed chunks mismatch: %v", got.CompletedChunks)
	}
}

func TestLoadMissingReturnsErrNotFound(t *testing.T) {
	dir := t.TempDir()
	st, _ := New(dir, 4)

	var id [32]byte
	id[0] = 99
	if _, err := st.Load(id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMarksChunkAndPersists(t *testing.T) {
	dir := t.TempDir()
	st, _ := New(dir, 4)

	s := testState(2)
	if err := st.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.Update(s.TransferID, 3); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := st.Load(s.TransferID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.CompletedChunks[3] {
		t.Fatalf("expected chunk 3 marked complete")
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	dir := t.TempDir()
	st, _ := New(dir, 4)

	s := testState(3)
	st.Save(s)
	if err := st.Delete(s.TransferID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Load(s.TransferID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListReturnsAllRecords(t *testing.T) {
	dir := t.TempDir()
	st, _ := New(dir, 4)

	st.Save(testState(10))
	st.Save(testState(20))
	st.Save(testState(30))

	ids, err := st.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 records, got %d", len(ids))
	}
}

func TestCleanupDropsStaleRecords(t *testing.T) {
	dir := t.TempDir()
	st, _ := New(dir, 4)

	fresh := testState(1)
	stale := testState(2)
	stale.LastActive = time.Now().Add(-48 * time.Hour)

	st.Save(fresh)
	st.Save(stale)

	removed, err := st.Cleanup(time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 record removed, got %d", removed)
	}

	ids, _ := st.List()
	if len(ids) != 1 {
		t.Fatalf("expected 1 record remaining, got %d", len(ids))
	}
}

func TestLRUEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	st, _ := New(dir, 2)

	a, b, c := testState(1), testState(2), testState(3)
	st.Save(a)
	st.Save(b)
	st.Save(c) // should evict a's cache entry, but a is still on disk

	got, err := st.Load(a.TransferID)
	if err != nil {
		t.Fatalf("Load after eviction should still hit disk: %v", err)
	}
	if got.TotalChunks != a.TotalChunks {
		t.Fatalf("unexpected record after cache eviction")
	}
}
