package handshake

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/meshdrop/transfer/internal/wire"
)

type fakeAuth struct {
	mu           sync.Mutex
	code         string
	expiresAtMS  int64
	blocked      map[string]bool
	failedCounts map[string]int
}

func newFakeAuth(code string) *fakeAuth {
	return &fakeAuth{
		code:         code,
		expiresAtMS:  time.Now().Add(time.Minute).UnixMilli(),
		blocked:      map[string]bool{},
		failedCounts: map[string]int{},
	}
}

func (f *fakeAuth) CurrentPairCode() (string, int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.code == "" {
		return "", 0, false
	}
	return f.code, f.expiresAtMS, true
}

func (f *fakeAuth) IsBlocked(peerDeviceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked[peerDeviceID]
}

func (f *fakeAuth) RecordFailedAttempt(peerDeviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedCounts[peerDeviceID]++
	f.blocked[peerDeviceID] = true
}

func (f *fakeAuth) RecordSuccess(peerDeviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedCounts[peerDeviceID] = 0
}

func TestHandshakeSuccess(t *testing.T) {
	serverConnRaw, clientConnRaw := net.Pipe()
	defer serverConnRaw.Close()
	defer clientConnRaw.Close()

	serverConn := wire.NewConn(serverConnRaw)
	clientConn := wire.NewConn(clientConnRaw)
	auth := newFakeAuth("123456")

	type serverResult struct {
		res *Result
		err error
	}
	done := make(chan serverResult, 1)
	go func() {
		res, err := ServerAccept(serverConn, "server-dev", "Server", auth)
		done <- serverResult{res, err}
	}()

	clientRes, err := ClientDial(clientConn, "client-dev", "Client", "123456")
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	sres := <-done
	if sres.err != nil {
		t.Fatalf("server accept: %v", sres.err)
	}

	if clientRes.PeerDeviceID != "server-dev" {
		t.Fatalf("client got peer id %q", clientRes.PeerDeviceID)
	}
	if sres.res.PeerDeviceID != "client-dev" {
		t.Fatalf("server got peer id %q", sres.res.PeerDeviceID)
	}
	if len(clientRes.SessionKey) != 32 || len(sres.res.SessionKey) != 32 {
		t.Fatal("expected 32-byte session keys")
	}
	for i := range clientRes.SessionKey {
		if clientRes.SessionKey[i] != sres.res.SessionKey[i] {
			t.Fatal("client and server derived different session keys")
		}
	}
}

func TestHandshakeWrongPairCodeFails(t *testing.T) {
	serverConnRaw, clientConnRaw := net.Pipe()
	defer serverConnRaw.Close()
	defer clientConnRaw.Close()

	serverConn := wire.NewConn(serverConnRaw)
	clientConn := wire.NewConn(clientConnRaw)
	auth := newFakeAuth("123456")

	done := make(chan error, 1)
	go func() {
		_, err := ServerAccept(serverConn, "server-dev", "Server", auth)
		done <- err
	}()

	_, err := ClientDial(clientConn, "client-dev", "Client", "wrong-code")
	if err == nil {
		t.Fatal("expected client dial to fail")
	}
	if serr := <-done; serr != ErrAuthFailed {
		t.Fatalf("got %v, want ErrAuthFailed", serr)
	}
	if auth.failedCounts["client-dev"] != 1 {
		t.Fatalf("expected one failed attempt recorded, got %d", auth.failedCounts["client-dev"])
	}
}

func TestHandshakeBlockedPeerRejected(t *testing.T) {
	serverConnRaw, clientConnRaw := net.Pipe()
	defer serverConnRaw.Close()
	defer clientConnRaw.Close()

	serverConn := wire.NewConn(serverConnRaw)
	clientConn := wire.NewConn(clientConnRaw)
	auth := newFakeAuth("123456")
	auth.blocked["client-dev"] = true

	done := make(chan error, 1)
	go func() {
		_, err := ServerAccept(serverConn, "server-dev", "Server", auth)
		done <- err
	}()

	_, err := ClientDial(clientConn, "client-dev", "Client", "123456")
	if err == nil {
		t.Fatal("expected client dial to fail")
	}
	if serr := <-done; serr != ErrPeerBlocked {
		t.Fatalf("got %v, want ErrPeerBlocked", serr)
	}
}
