package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/meshdrop/transfer/internal/config"
	"github.com/meshdrop/transfer/internal/identity"
	"github.com/meshdrop/transfer/internal/observability"
	"github.com/meshdrop/transfer/internal/service"
	"github.com/meshdrop/transfer/internal/session"
	"github.com/meshdrop/transfer/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
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

	logger := observability.NewLogger("api-test", "test", io.Discard)
	svc, err := service.New(st, id, nil, session.NewRegistry(), session.NewPublisher(8), logger, nil, 9527)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mux := http.NewServeMux()
	NewServer(svc).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleSettingsGetAndPatch(t *testing.T) {
	srv := newTestServer(t)

	var got config.Settings
	getJSON(t, srv.URL+"/api/v1/settings", &got)
	if got.MaxParallelFiles != 2 {
		t.Fatalf("expected default settings, got %+v", got)
	}

	patchBody, _ := json.Marshal(config.Patch{MaxParallelFiles: intPtr(5)})
	resp, err := http.Post(srv.URL+"/api/v1/settings", "application/json", bytes.NewReader(patchBody))
	if err != nil {
		t.Fatalf("POST settings: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var updated config.Settings
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatal(err)
	}
	if updated.MaxParallelFiles != 5 {
		t.Fatalf("expected patched value 5, got %d", updated.MaxParallelFiles)
	}
}

func TestHandleGeneratePairingCode(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/pairing/generate", "application/json", nil)
	if err != nil {
		t.Fatalf("POST pairing/generate: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var got struct {
		Code        string
		ExpiresAtMS int64
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Code) != 8 {
		t.Fatalf("expected an 8-digit pairing code, got %q", got.Code)
	}
	if got.ExpiresAtMS == 0 {
		t.Fatal("expected a non-zero expiry")
	}
}

func TestHandleTransferControlUnknownSession(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/transfer/nope/pause", "application/json", nil)
	if err != nil {
		t.Fatalf("POST transfer control: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp.StatusCode)
	}
}

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}

func intPtr(v int) *int { return &v }
