package discovery

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/meshdrop/transfer/internal/model"
)

func TestMergeWithStoredOnlineOverridesTransientFields(t *testing.T) {
	stored := []*model.Peer{
		{DeviceID: "d1", DisplayName: "Old Name", PairedAtMS: 111, Trust: model.TrustTrusted, FailedAttempts: 1},
	}
	online := map[string]OnlinePeer{
		"d1": {DeviceID: "d1", DisplayName: "New Name", Address: "10.0.0.5", ListenPort: 9527, LastSeenAtMS: 999},
	}

	merged := MergeWithStored(online, stored)
	if len(merged) != 1 {
		t.Fatalf("got %d peers, want 1", len(merged))
	}
	m := merged[0]
	if m.DisplayName != "New Name" || m.Address != "10.0.0.5" || !m.Online {
		t.Fatalf("online fields not applied: %+v", m)
	}
	if m.PairedAtMS != 111 || m.Trust != model.TrustTrusted || m.FailedAttempts != 1 {
		t.Fatalf("stored fields not preserved: %+v", m)
	}
}

func TestMergeWithStoredSortOrder(t *testing.T) {
	stored := []*model.Peer{
		{DeviceID: "offline-recent", LastSeenAtMS: 500},
		{DeviceID: "offline-old", LastSeenAtMS: 100},
	}
	online := map[string]OnlinePeer{
		"online-peer": {DeviceID: "online-peer", LastSeenAtMS: 1},
	}
	merged := MergeWithStored(online, stored)
	if len(merged) != 3 {
		t.Fatalf("got %d", len(merged))
	}
	if merged[0].DeviceID != "online-peer" {
		t.Fatalf("expected online peer first, got %+v", merged)
	}
	if merged[1].DeviceID != "offline-recent" || merged[2].DeviceID != "offline-old" {
		t.Fatalf("offline peers not sorted by last_seen_at desc: %+v", merged)
	}
}

func TestPeerCacheRecordAndGet(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(filepath.Join(dir, "peers.bolt"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()

	p := OnlinePeer{DeviceID: "d1", DisplayName: "Alice", Address: "10.0.0.2", ListenPort: 9527, LastSeenAtMS: time.Now().UnixMilli()}
	if err := cache.Record("d1", p); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, found, err := cache.Get("d1")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got.DisplayName != "Alice" || got.Address != "10.0.0.2" {
		t.Fatalf("got %+v", got)
	}

	if _, found, err := cache.Get("nobody"); err != nil || found {
		t.Fatalf("expected not found, got found=%v err=%v", found, err)
	}
}

func TestPeerCachePrune(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(filepath.Join(dir, "peers.bolt"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()

	old := OnlinePeer{DeviceID: "old", LastSeenAtMS: time.Now().Add(-48 * time.Hour).UnixMilli()}
	fresh := OnlinePeer{DeviceID: "fresh", LastSeenAtMS: time.Now().UnixMilli()}
	if err := cache.Record("old", old); err != nil {
		t.Fatal(err)
	}
	if err := cache.Record("fresh", fresh); err != nil {
		t.Fatal(err)
	}

	removed, err := cache.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("got %d removed, want 1", removed)
	}
	if _, found, _ := cache.Get("old"); found {
		t.Fatal("old entry should have been pruned")
	}
	if _, found, _ := cache.Get("fresh"); !found {
		t.Fatal("fresh entry should remain")
	}
}

func TestServiceSnapshotEmptyInitially(t *testing.T) {
	svc := New("self-id", "Self", 9527, []string{"binary_codec"}, nil, nil)
	if len(svc.Snapshot()) != 0 {
		t.Fatal("expected empty snapshot before Run")
	}
}

func TestPeerCacheList(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(filepath.Join(dir, "peers.bolt"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()

	if err := cache.Record("d1", OnlinePeer{DeviceID: "d1", DisplayName: "Alice", LastSeenAtMS: 1}); err != nil {
		t.Fatal(err)
	}
	if err := cache.Record("d2", OnlinePeer{DeviceID: "d2", DisplayName: "Bob", LastSeenAtMS: 2}); err != nil {
		t.Fatal(err)
	}

	got, err := cache.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
}

func TestServiceCachedPeersWithoutCacheIsNil(t *testing.T) {
	svc := New("self-id", "Self", 9527, []string{"binary_codec"}, nil, nil)
	got, err := svc.CachedPeers()
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil without an attached cache, got %v, %v", got, err)
	}
}

func TestServiceCachedPeersReflectsAttachedCache(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(filepath.Join(dir, "peers.bolt"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()
	if err := cache.Record("d1", OnlinePeer{DeviceID: "d1", DisplayName: "Alice", LastSeenAtMS: 1}); err != nil {
		t.Fatal(err)
	}

	svc := New("self-id", "Self", 9527, []string{"binary_codec"}, nil, nil)
	svc.AttachCache(cache)

	got, err := svc.CachedPeers()
	if err != nil {
		t.Fatalf("CachedPeers: %v", err)
	}
	if len(got) != 1 || got[0].DeviceID != "d1" {
		t.Fatalf("got %+v", got)
	}
}
