package service

import (
	"context"
	"time"

	"github.com/meshdrop/transfer/internal/session"
)

// cleanupInterval is how often the periodic cleanup pass runs.
const cleanupInterval = time.Hour

// RunCleanup periodically stamps cleanup deadlines on terminal sessions and
// deletes the ones whose deadline has passed, until ctx is canceled.
func (s *Service) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	s.cleanupPass()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupPass()
		}
	}
}

// cleanupPass runs one cleanup cycle: terminal sessions without a
// cleanup_after_at get finished_at + auto_cleanup_days, and any session
// past its deadline is deleted (files cascade).
func (s *Service) cleanupPass() {
	retainMS := int64(s.GetSettings().AutoCleanupDays) * 24 * 60 * 60 * 1000
	if err := s.store.AssignCleanupDeadlines(retainMS); err != nil {
		if s.logger != nil {
			s.logger.Error(err, "cleanup: assigning deadlines failed")
		}
		return
	}
	n, err := s.store.DeleteExpiredSessions(nowMS())
	if err != nil {
		if s.logger != nil {
			s.logger.Error(err, "cleanup: deleting expired sessions failed")
		}
		return
	}
	if n > 0 {
		if s.logger != nil {
			s.logger.Info("cleanup removed expired sessions")
		}
		s.publisher.Publish(&session.Event{Type: session.EventHistorySync})
	}
}
