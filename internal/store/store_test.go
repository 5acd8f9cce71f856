package store

import (
	"path/filepath"
	"testing"

	"github.com/meshdrop/transfer/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	sess := &model.Session{
		ID: "sess-1", Direction: model.DirectionSend, PeerDeviceID: "peer-1",
		PeerName: "laptop", Status: model.StatusQueued, TotalBytes: 1000,
		SaveDir: "/tmp/x", CreatedAtMS: 1000,
	}
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := s.LoadSession("sess-1")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.PeerName != "laptop" || got.TotalBytes != 1000 {
		t.Errorf("loaded session mismatch: %+v", got)
	}
}

func TestSessionUpsertPreservesStartedAt(t *testing.T) {
	s := openTestStore(t)
	sess := &model.Session{ID: "sess-2", Direction: model.DirectionSend, PeerDeviceID: "p",
		Status: model.StatusRunning, CreatedAtMS: 1, StartedAtMS: 500}
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Second upsert without StartedAtMS set should not clobber it.
	sess2 := &model.Session{ID: "sess-2", Direction: model.DirectionSend, PeerDeviceID: "p",
		Status: model.StatusRunning, CreatedAtMS: 1, TransferredBytes: 10}
	if err := s.SaveSession(sess2); err != nil {
		t.Fatalf("save2: %v", err)
	}

	got, err := s.LoadSession("sess-2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.StartedAtMS != 500 {
		t.Errorf("StartedAtMS clobbered: got %d, want 500", got.StartedAtMS)
	}
	if got.TransferredBytes != 10 {
		t.Errorf("TransferredBytes = %d, want 10", got.TransferredBytes)
	}
}

func TestFilesCascadeDeleteWithSession(t *testing.T) {
	s := openTestStore(t)
	sess := &model.Session{ID: "sess-3", Direction: model.DirectionSend, PeerDeviceID: "p", Status: model.StatusQueued, CreatedAtMS: 1}
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("save session: %v", err)
	}
	f := &model.File{ID: "file-1", SessionID: "sess-3", RelativePath: "a.txt", ChunkSize: 1024, ChunkCount: 1, Status: model.FileQueued, UpdatedAtMS: 1}
	if err := s.SaveFilesBatch([]*model.File{f}); err != nil {
		t.Fatalf("save files: %v", err)
	}

	files, err := s.LoadFilesForSession("sess-3")
	if err != nil || len(files) != 1 {
		t.Fatalf("expected 1 file, got %d, err=%v", len(files), err)
	}

	if _, err := s.DeleteSessions(false, 2); err != nil {
		t.Fatalf("delete sessions: %v", err)
	}
	files, err = s.LoadFilesForSession("sess-3")
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected cascade delete, still have %d files", len(files))
	}
}

func TestListSessionsOrderedAndPaginated(t *testing.T) {
	s := openTestStore(t)
	for i, ms := range []int64{100, 200, 300} {
		sess := &model.Session{ID: string(rune('a' + i)), Direction: model.DirectionSend,
			PeerDeviceID: "p", Status: model.StatusSuccess, CreatedAtMS: ms}
		if err := s.SaveSession(sess); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	got, err := s.ListSessions(ListSessionsParams{Limit: 30})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 || got[0].CreatedAtMS != 300 || got[2].CreatedAtMS != 100 {
		t.Fatalf("unexpected order: %+v", got)
	}

	page2, err := s.ListSessions(ListSessionsParams{Limit: 30, CursorCreatedAtMS: 300})
	if err != nil {
		t.Fatalf("list page2: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("expected 2 remaining after cursor, got %d", len(page2))
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	got, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings (defaults): %v", err)
	}
	if got.ChunkSizeKiB != 1024 {
		t.Errorf("expected default chunk size, got %d", got.ChunkSizeKiB)
	}

	got.ChunkSizeKiB = 256
	if err := s.SaveSettings(got); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got2, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got2.ChunkSizeKiB != 256 {
		t.Errorf("ChunkSizeKiB = %d, want 256", got2.ChunkSizeKiB)
	}
}

func TestPeerUpsertAndLockout(t *testing.T) {
	s := openTestStore(t)
	p := &model.Peer{DeviceID: "peer-x", DisplayName: "phone", Trust: model.TrustOther, FailedAttempts: 1}
	if err := s.UpsertPeer(p); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	got, err := s.GetPeer("peer-x")
	if err != nil || got == nil {
		t.Fatalf("GetPeer: %v", err)
	}
	if got.FailedAttempts != 1 {
		t.Errorf("FailedAttempts = %d, want 1", got.FailedAttempts)
	}
}

func TestCleanupDeadlineAssignmentAndExpiry(t *testing.T) {
	s := openTestStore(t)
	done := &model.Session{ID: "done-1", Direction: model.DirectionSend, PeerDeviceID: "p",
		Status: model.StatusSuccess, CreatedAtMS: 1, FinishedAtMS: 1000}
	running := &model.Session{ID: "run-1", Direction: model.DirectionSend, PeerDeviceID: "p",
		Status: model.StatusRunning, CreatedAtMS: 2}
	if err := s.SaveSession(done); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveSession(running); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.AssignCleanupDeadlines(500); err != nil {
		t.Fatalf("AssignCleanupDeadlines: %v", err)
	}
	got, err := s.LoadSession("done-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.CleanupAfterMS != 1500 {
		t.Fatalf("CleanupAfterMS = %d, want 1500", got.CleanupAfterMS)
	}

	n, err := s.DeleteExpiredSessions(2000)
	if err != nil {
		t.Fatalf("DeleteExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d sessions, want 1", n)
	}
	if _, err := s.LoadSession("done-1"); err != ErrSessionNotFound {
		t.Fatalf("expected done-1 gone, got %v", err)
	}
	if _, err := s.LoadSession("run-1"); err != nil {
		t.Fatalf("running session should survive cleanup: %v", err)
	}
}
