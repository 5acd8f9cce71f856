// Package model defines the shared domain types of the transfer engine
// (Session, File, Peer, and their enumerations) so that the store,
// session-control, pipeline, and service layers can all operate on the
// same representation without import cycles.
package model

// Direction is the direction of a transfer session.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	StatusQueued      SessionStatus = "queued"
	StatusRunning     SessionStatus = "running"
	StatusPaused      SessionStatus = "paused"
	StatusFailed      SessionStatus = "failed"
	StatusInterrupted SessionStatus = "interrupted"
	StatusCanceled    SessionStatus = "canceled"
	StatusSuccess     SessionStatus = "success"
)

// IsTerminal reports whether status is one of {success, failed, canceled}.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// validSessionTransitions enumerates the session status graph:
// queued -> running -> {paused <-> running} -> {success|failed|canceled}.
// Interrupted is reachable from running on ungraceful disconnect.
var validSessionTransitions = map[SessionStatus][]SessionStatus{
	StatusQueued:  {StatusRunning, StatusFailed, StatusCanceled},
	StatusRunning: {StatusPaused, StatusSuccess, StatusFailed, StatusCanceled, StatusInterrupted},
	StatusPaused:  {StatusRunning, StatusCanceled, StatusFailed},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to SessionStatus) bool {
	if from.IsTerminal() {
		return false
	}
	for _, allowed := range validSessionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Session is the durable, in-memory representation of a transfer.
type Session struct {
	ID               string
	Direction        Direction
	PeerDeviceID     string
	PeerName         string
	Status           SessionStatus
	TotalBytes       int64
	TransferredBytes int64
	AvgSpeedBPS      float64
	SaveDir          string
	CreatedAtMS      int64
	StartedAtMS      int64
	FinishedAtMS     int64
	ErrorCode        string
	ErrorMessage     string
	CleanupAfterMS   int64
	PairCode         string
	Files            []*File
}

// Validate enforces the session-level invariants.
func (s *Session) Validate() error {
	if s.TransferredBytes > s.TotalBytes {
		return ErrTransferredExceedsTotal
	}
	return nil
}
