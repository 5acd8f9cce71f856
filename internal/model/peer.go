package model

// TrustLevel classifies how much a peer is trusted.
type TrustLevel string

const (
	TrustOnline  TrustLevel = "online"
	TrustTrusted TrustLevel = "trusted"
	TrustOther   TrustLevel = "other"
)

// Peer is a known or currently-online LAN device.
type Peer struct {
	DeviceID       string
	DisplayName    string
	LastSeenAtMS   int64
	PairedAtMS     int64
	Trust          TrustLevel
	FailedAttempts int
	BlockedUntilMS int64

	// Transient, discovery-sourced fields; zero value when the peer is
	// known only from the store and not currently online.
	Address    string
	ListenPort int
	Online     bool
}

// LockoutDurationMS is applied to BlockedUntilMS on every failed pairing
// attempt; a wrong pair code locks the peer out immediately.
const LockoutDurationMS = 60_000

// PairingCode is the single outstanding 8-digit pairing code.
type PairingCode struct {
	Code        string
	ExpiresAtMS int64
}

// PairingCodeLifetimeMS is the validity window of a pairing code.
const PairingCodeLifetimeMS = 120_000
