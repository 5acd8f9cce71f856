package store

import (
	"database/sql"
	"fmt"

	"github.com/meshdrop/transfer/internal/model"
)

// UpsertPeer persists the durable half of a peer record:
// pairing state, trust, and lockout bookkeeping. Transient
// discovery-sourced fields (address, listen port, online) are never
// persisted here.
func (s *Store) UpsertPeer(p *model.Peer) error {
	_, err := s.db.Exec(`
		INSERT INTO transfer_peers (device_id, display_name, last_seen_at, paired_at, trust_level, failed_attempts, blocked_until)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			display_name = COALESCE(excluded.display_name, transfer_peers.display_name),
			last_seen_at = COALESCE(excluded.last_seen_at, transfer_peers.last_seen_at),
			paired_at = COALESCE(excluded.paired_at, transfer_peers.paired_at),
			trust_level = excluded.trust_level,
			failed_attempts = excluded.failed_attempts,
			blocked_until = excluded.blocked_until
	`, p.DeviceID, nullableString(p.DisplayName), nullableInt(p.LastSeenAtMS), nullableInt(p.PairedAtMS),
		string(p.Trust), p.FailedAttempts, nullableInt(p.BlockedUntilMS))
	if err != nil {
		return fmt.Errorf("upsert peer: %w", err)
	}
	return nil
}

// GetPeer loads the durable peer record, or nil if unknown.
func (s *Store) GetPeer(deviceID string) (*model.Peer, error) {
	row := s.db.QueryRow(`
		SELECT device_id, display_name, last_seen_at, paired_at, trust_level, failed_attempts, blocked_until
		FROM transfer_peers WHERE device_id = ?`, deviceID)
	return scanPeer(row)
}

func scanPeer(row *sql.Row) (*model.Peer, error) {
	var p model.Peer
	var displayName sql.NullString
	var lastSeen, pairedAt, blockedUntil sql.NullInt64
	var trust string
	err := row.Scan(&p.DeviceID, &displayName, &lastSeen, &pairedAt, &trust, &p.FailedAttempts, &blockedUntil)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan peer: %w", err)
	}
	p.DisplayName = displayName.String
	p.LastSeenAtMS = lastSeen.Int64
	p.PairedAtMS = pairedAt.Int64
	p.Trust = model.TrustLevel(trust)
	p.BlockedUntilMS = blockedUntil.Int64
	return &p, nil
}

// ListPeers returns every durably-known peer.
func (s *Store) ListPeers() ([]*model.Peer, error) {
	rows, err := s.db.Query(`
		SELECT device_id, display_name, last_seen_at, paired_at, trust_level, failed_attempts, blocked_until
		FROM transfer_peers ORDER BY last_seen_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	var out []*model.Peer
	for rows.Next() {
		var p model.Peer
		var displayName sql.NullString
		var lastSeen, pairedAt, blockedUntil sql.NullInt64
		var trust string
		if err := rows.Scan(&p.DeviceID, &displayName, &lastSeen, &pairedAt, &trust, &p.FailedAttempts, &blockedUntil); err != nil {
			return nil, fmt.Errorf("scan peer row: %w", err)
		}
		p.DisplayName = displayName.String
		p.LastSeenAtMS = lastSeen.Int64
		p.PairedAtMS = pairedAt.Int64
		p.Trust = model.TrustLevel(trust)
		p.BlockedUntilMS = blockedUntil.Int64
		out = append(out, &p)
	}
	return out, rows.Err()
}
