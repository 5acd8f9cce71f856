package service

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/meshdrop/transfer/internal/config"
	"github.com/meshdrop/transfer/internal/discovery"
	"github.com/meshdrop/transfer/internal/identity"
	"github.com/meshdrop/transfer/internal/model"
	"github.com/meshdrop/transfer/internal/observability"
	"github.com/meshdrop/transfer/internal/session"
	"github.com/meshdrop/transfer/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	id, err := identity.LoadOrCreate(st, "", "")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	logger := observability.NewLogger("service-test", "test", io.Discard)
	svc, err := New(st, id, nil, session.NewRegistry(), session.NewPublisher(8), logger, nil, 9527)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, st
}

func TestUpdateSettingsPersistsAndClamps(t *testing.T) {
	svc, _ := newTestService(t)

	overParallel := 99
	updated, err := svc.UpdateSettings(config.Patch{MaxParallelFiles: &overParallel})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if updated.MaxParallelFiles != 8 {
		t.Fatalf("expected clamp to 8, got %d", updated.MaxParallelFiles)
	}

	got := svc.GetSettings()
	if got.MaxParallelFiles != 8 {
		t.Fatalf("settings not persisted in memory: %+v", got)
	}
}

func TestGeneratePairingCodeReplacesPrevious(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GeneratePairingCode()
	if err != nil {
		t.Fatalf("GeneratePairingCode: %v", err)
	}
	second, err := svc.GeneratePairingCode()
	if err != nil {
		t.Fatalf("GeneratePairingCode: %v", err)
	}

	code, expiresAtMS, ok := svc.CurrentPairCode()
	if !ok {
		t.Fatal("expected an outstanding pair code")
	}
	if code != second.Code {
		t.Fatalf("expected current code to be the latest issued one: got %q want %q", code, second.Code)
	}
	if expiresAtMS != second.ExpiresAtMS {
		t.Fatalf("expiry mismatch: got %d want %d", expiresAtMS, second.ExpiresAtMS)
	}
}

func TestRecordFailedAttemptLocksOutImmediately(t *testing.T) {
	svc, st := newTestService(t)
	const peerID = "peer-1"

	svc.RecordFailedAttempt(peerID)
	if !svc.IsBlocked(peerID) {
		t.Fatal("expected a single failed attempt to lock the peer out")
	}
	p, err := st.GetPeer(peerID)
	if err != nil || p == nil {
		t.Fatalf("GetPeer: %v", err)
	}
	if p.FailedAttempts != 1 {
		t.Fatalf("FailedAttempts = %d, want 1", p.FailedAttempts)
	}
	if p.Trust != model.TrustOther {
		t.Fatalf("Trust = %q, want other after a failed attempt", p.Trust)
	}
	if p.BlockedUntilMS == 0 {
		t.Fatal("expected blocked_until to be set")
	}

	svc.RecordSuccess(peerID)
	if svc.IsBlocked(peerID) {
		t.Fatal("expected a successful auth to clear the lockout")
	}
	p, err = st.GetPeer(peerID)
	if err != nil || p == nil {
		t.Fatalf("GetPeer: %v", err)
	}
	if p.Trust != model.TrustTrusted || p.FailedAttempts != 0 {
		t.Fatalf("expected trusted peer with cleared counter, got %+v", p)
	}
}

func TestListHistoryPaginatesAndClearHistoryDeletes(t *testing.T) {
	svc, st := newTestService(t)

	for i := 0; i < 3; i++ {
		sess := &model.Session{
			ID: "sess-" + string(rune('a'+i)), Direction: model.DirectionSend,
			PeerDeviceID: "peer-1", Status: model.StatusSuccess, CreatedAtMS: int64(1000 + i),
		}
		if err := st.SaveSession(sess); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}

	page, err := svc.ListHistory(0, 2, "", "")
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected a page of 2, got %d", len(page.Items))
	}
	if page.NextCursor == 0 {
		t.Fatal("expected a non-zero next cursor when the page is full")
	}

	deleted, err := svc.ClearHistory(true, 0)
	if err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 sessions deleted, got %d", deleted)
	}

	page, err = svc.ListHistory(0, 10, "", "")
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected empty history after clear, got %d items", len(page.Items))
	}
}

func TestListPeersSurfacesCachedSightingsNotStoredOrOnline(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	id, err := identity.LoadOrCreate(st, "", "")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if err := st.UpsertPeer(&model.Peer{DeviceID: "paired-1", DisplayName: "Paired", Trust: model.TrustTrusted}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}

	cache, err := discovery.OpenCache(filepath.Join(t.TempDir(), "peers.bolt"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	if err := cache.Record("paired-1", discovery.OnlinePeer{DeviceID: "paired-1", DisplayName: "Paired"}); err != nil {
		t.Fatal(err)
	}
	if err := cache.Record("stranger-1", discovery.OnlinePeer{DeviceID: "stranger-1", DisplayName: "Stranger", LastSeenAtMS: 42}); err != nil {
		t.Fatal(err)
	}

	disc := discovery.New("self", "Self", 9527, nil, nil, nil)
	disc.AttachCache(cache)

	logger := observability.NewLogger("service-test", "test", io.Discard)
	svc, err := New(st, id, disc, session.NewRegistry(), session.NewPublisher(8), logger, nil, 9527)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	peers, err := svc.ListPeers()
	if err != nil {
		t.Fatalf("ListPeers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("expected paired-1 (deduped) + stranger-1, got %d: %+v", len(peers), peers)
	}
	var sawStranger bool
	for _, p := range peers {
		if p.DeviceID == "stranger-1" {
			sawStranger = true
			if p.Trust != model.TrustOther {
				t.Fatalf("expected cache-only peer to surface as trust=other, got %q", p.Trust)
			}
			if p.Online {
				t.Fatal("cache-only peer should not be marked online")
			}
		}
	}
	if !sawStranger {
		t.Fatal("expected stranger-1 to be surfaced from the peer cache")
	}
}

func TestControlOperationsRequireAnActiveSession(t *testing.T) {
	svc, _ := newTestService(t)

	if svc.Pause("missing") || svc.Resume("missing") || svc.Cancel("missing") {
		t.Fatal("expected control operations on an unknown session id to report false")
	}

	ctl := svc.registry.Start("sess-1")
	defer svc.registry.Finish("sess-1")

	if !svc.Pause("sess-1") {
		t.Fatal("expected Pause to succeed for a started session")
	}
	if !ctl.IsPaused() {
		t.Fatal("expected the underlying control to observe the pause")
	}
	if !svc.Resume("sess-1") {
		t.Fatal("expected Resume to succeed")
	}
	if ctl.IsPaused() {
		t.Fatal("expected the underlying control to observe the resume")
	}
	if !svc.Cancel("sess-1") {
		t.Fatal("expected Cancel to succeed")
	}
	if !ctl.Canceled() {
		t.Fatal("expected the underlying control to observe the cancellation")
	}
}
