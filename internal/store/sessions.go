package store

import (
	"database/sql"
	"fmt"

	"github.com/meshdrop/transfer/internal/model"
)

// SaveSession upserts a session row. started_at is preserved
// via COALESCE(new, old) rather than overwritten with NULL, and nullable
// fields never clobber known-good values on a partial update.
func (s *Store) SaveSession(sess *model.Session) error {
	_, err := s.db.Exec(`
		INSERT INTO transfer_sessions (
			id, direction, peer_device_id, peer_name, status, total_bytes,
			transferred_bytes, avg_speed_bps, save_dir, created_at, started_at,
			finished_at, error_code, error_message, cleanup_after_at, pair_code
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			direction = excluded.direction,
			peer_device_id = excluded.peer_device_id,
			peer_name = COALESCE(excluded.peer_name, transfer_sessions.peer_name),
			status = excluded.status,
			total_bytes = excluded.total_bytes,
			transferred_bytes = excluded.transferred_bytes,
			avg_speed_bps = excluded.avg_speed_bps,
			save_dir = COALESCE(excluded.save_dir, transfer_sessions.save_dir),
			started_at = COALESCE(transfer_sessions.started_at, excluded.started_at),
			finished_at = COALESCE(excluded.finished_at, transfer_sessions.finished_at),
			error_code = COALESCE(excluded.error_code, transfer_sessions.error_code),
			error_message = COALESCE(excluded.error_message, transfer_sessions.error_message),
			cleanup_after_at = COALESCE(excluded.cleanup_after_at, transfer_sessions.cleanup_after_at),
			pair_code = COALESCE(excluded.pair_code, transfer_sessions.pair_code)
	`,
		sess.ID, string(sess.Direction), sess.PeerDeviceID, nullableString(sess.PeerName),
		string(sess.Status), sess.TotalBytes, sess.TransferredBytes, sess.AvgSpeedBPS,
		nullableString(sess.SaveDir), sess.CreatedAtMS, nullableInt(sess.StartedAtMS),
		nullableInt(sess.FinishedAtMS), nullableString(sess.ErrorCode), nullableString(sess.ErrorMessage),
		nullableInt(sess.CleanupAfterMS), nullableString(sess.PairCode),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession loads a session row (without its files) by id.
func (s *Store) LoadSession(id string) (*model.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, direction, peer_device_id, peer_name, status, total_bytes,
		       transferred_bytes, avg_speed_bps, save_dir, created_at, started_at,
		       finished_at, error_code, error_message, cleanup_after_at, pair_code
		FROM transfer_sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*model.Session, error) {
	var sess model.Session
	var direction, status string
	var peerName, saveDir, errCode, errMsg, pairCode sql.NullString
	var startedAt, finishedAt, cleanupAfter sql.NullInt64

	err := row.Scan(&sess.ID, &direction, &sess.PeerDeviceID, &peerName, &status,
		&sess.TotalBytes, &sess.TransferredBytes, &sess.AvgSpeedBPS, &saveDir,
		&sess.CreatedAtMS, &startedAt, &finishedAt, &errCode, &errMsg, &cleanupAfter, &pairCode)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Direction = model.Direction(direction)
	sess.Status = model.SessionStatus(status)
	sess.PeerName = peerName.String
	sess.SaveDir = saveDir.String
	sess.ErrorCode = errCode.String
	sess.ErrorMessage = errMsg.String
	sess.PairCode = pairCode.String
	sess.StartedAtMS = startedAt.Int64
	sess.FinishedAtMS = finishedAt.Int64
	sess.CleanupAfterMS = cleanupAfter.Int64
	return &sess, nil
}

// ErrSessionNotFound is returned when a session id has no row.
var ErrSessionNotFound = fmt.Errorf("transfer_session_not_found")

// ListSessionsParams filters/paginates the history query.
type ListSessionsParams struct {
	CursorCreatedAtMS int64
	Limit             int
	Status            model.SessionStatus
	PeerDeviceID      string
}

// ListSessions returns sessions ordered by created_at DESC, with a
// cursor-based pagination keyed on created_at.
func (s *Store) ListSessions(p ListSessionsParams) ([]*model.Session, error) {
	query := `SELECT id, direction, peer_device_id, peer_name, status, total_bytes,
		       transferred_bytes, avg_speed_bps, save_dir, created_at, started_at,
		       finished_at, error_code, error_message, cleanup_after_at, pair_code
		FROM transfer_sessions WHERE 1=1`
	args := []any{}
	if p.CursorCreatedAtMS > 0 {
		query += " AND created_at < ?"
		args = append(args, p.CursorCreatedAtMS)
	}
	if p.Status != "" {
		query += " AND status = ?"
		args = append(args, string(p.Status))
	}
	if p.PeerDeviceID != "" {
		query += " AND peer_device_id = ?"
		args = append(args, p.PeerDeviceID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, p.Limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		var sess model.Session
		var direction, status string
		var peerName, saveDir, errCode, errMsg, pairCode sql.NullString
		var startedAt, finishedAt, cleanupAfter sql.NullInt64
		if err := rows.Scan(&sess.ID, &direction, &sess.PeerDeviceID, &peerName, &status,
			&sess.TotalBytes, &sess.TransferredBytes, &sess.AvgSpeedBPS, &saveDir,
			&sess.CreatedAtMS, &startedAt, &finishedAt, &errCode, &errMsg, &cleanupAfter, &pairCode); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess.Direction = model.Direction(direction)
		sess.Status = model.SessionStatus(status)
		sess.PeerName = peerName.String
		sess.SaveDir = saveDir.String
		sess.ErrorCode = errCode.String
		sess.ErrorMessage = errMsg.String
		sess.PairCode = pairCode.String
		sess.StartedAtMS = startedAt.Int64
		sess.FinishedAtMS = finishedAt.Int64
		sess.CleanupAfterMS = cleanupAfter.Int64
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// DeleteSessions removes sessions matching the clear_history filter;
// deletion cascades to transfer_files via the foreign key.
func (s *Store) DeleteSessions(all bool, olderThanCreatedAtMS int64) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if all {
		res, err = s.db.Exec(`DELETE FROM transfer_sessions`)
	} else {
		res, err = s.db.Exec(`DELETE FROM transfer_sessions WHERE created_at < ?`, olderThanCreatedAtMS)
	}
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return res.RowsAffected()
}

// AssignCleanupDeadlines stamps cleanup_after_at on terminal sessions that
// don't have one yet, as finished_at + retainMS.
func (s *Store) AssignCleanupDeadlines(retainMS int64) error {
	_, err := s.db.Exec(`
		UPDATE transfer_sessions
		SET cleanup_after_at = finished_at + ?
		WHERE cleanup_after_at IS NULL
		  AND finished_at IS NOT NULL
		  AND status IN ('success', 'failed', 'canceled')`, retainMS)
	if err != nil {
		return fmt.Errorf("assign cleanup deadlines: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions whose cleanup_after_at has passed,
// cascading to their files.
func (s *Store) DeleteExpiredSessions(nowMS int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM transfer_sessions WHERE cleanup_after_at IS NOT NULL AND cleanup_after_at <= ?`, nowMS)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// DueForCleanup returns session ids whose cleanup_after_at has passed.
func (s *Store) DueForCleanup(nowMS int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM transfer_sessions WHERE cleanup_after_at IS NOT NULL AND cleanup_after_at <= ?`, nowMS)
	if err != nil {
		return nil, fmt.Errorf("query due for cleanup: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
