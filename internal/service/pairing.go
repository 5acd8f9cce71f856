package service

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/meshdrop/transfer/internal/model"
)

// GeneratePairingCode issues a new single outstanding 8-digit pairing code,
// replacing any previous one.
func (s *Service) GeneratePairingCode() (model.PairingCode, error) {
	code, err := randomDigitCode(8)
	if err != nil {
		return model.PairingCode{}, fmt.Errorf("generate pairing code: %w", err)
	}
	pc := model.PairingCode{Code: code, ExpiresAtMS: nowMS() + model.PairingCodeLifetimeMS}

	s.pairMu.Lock()
	s.pairCode = &pc
	s.pairMu.Unlock()

	return pc, nil
}

func randomDigitCode(n int) (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	v := binary.BigEndian.Uint64(buf[:])
	mod := uint64(1)
	for i := 0; i < n; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", n, v%mod), nil
}

// CurrentPairCode implements handshake.Authenticator.
func (s *Service) CurrentPairCode() (code string, expiresAtMS int64, ok bool) {
	s.pairMu.RLock()
	defer s.pairMu.RUnlock()
	if s.pairCode == nil {
		return "", 0, false
	}
	return s.pairCode.Code, s.pairCode.ExpiresAtMS, true
}

// IsBlocked implements handshake.Authenticator: a peer under an active
// failed-attempt lockout cannot authenticate until blocked_until passes.
func (s *Service) IsBlocked(peerDeviceID string) bool {
	p, err := s.store.GetPeer(peerDeviceID)
	if err != nil || p == nil {
		return false
	}
	return p.BlockedUntilMS > nowMS()
}

// RecordFailedAttempt implements handshake.Authenticator: bumps the peer's
// failure counter, locks it out for LockoutDurationMS, and drops its trust
// to other. Every failed attempt re-arms the lockout window.
func (s *Service) RecordFailedAttempt(peerDeviceID string) {
	s.peerFailMu.Lock()
	defer s.peerFailMu.Unlock()

	p, err := s.store.GetPeer(peerDeviceID)
	if err != nil {
		return
	}
	if p == nil {
		p = &model.Peer{DeviceID: peerDeviceID}
	}
	p.FailedAttempts++
	p.LastSeenAtMS = nowMS()
	p.BlockedUntilMS = nowMS() + model.LockoutDurationMS
	p.Trust = model.TrustOther
	_ = s.store.UpsertPeer(p)
	if s.metrics != nil {
		s.metrics.RecordHandshakeFailure("auth_failed")
	}
	if s.logger != nil {
		s.logger.HandshakeFailed(peerDeviceID, "auth_failed")
	}
}

// RecordSuccess implements handshake.Authenticator: marks the peer paired
// and trusted, clearing any lockout state.
func (s *Service) RecordSuccess(peerDeviceID string) {
	s.peerFailMu.Lock()
	defer s.peerFailMu.Unlock()

	p, err := s.store.GetPeer(peerDeviceID)
	if err != nil {
		return
	}
	if p == nil {
		p = &model.Peer{DeviceID: peerDeviceID}
	}
	p.PairedAtMS = nowMS()
	p.Trust = model.TrustTrusted
	p.FailedAttempts = 0
	p.BlockedUntilMS = 0
	p.LastSeenAtMS = nowMS()
	_ = s.store.UpsertPeer(p)
}
