package service

import (
	"github.com/meshdrop/transfer/internal/model"
	"github.com/meshdrop/transfer/internal/session"
	"github.com/meshdrop/transfer/internal/store"
)

// defaultHistoryLimit/maxHistoryLimit clamp list_history's limit parameter.
const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 200
)

// HistoryPage is the result of list_history: a page of sessions plus the
// cursor to request the next one.
type HistoryPage struct {
	Items      []*model.Session
	NextCursor int64
}

// ListHistory returns a cursor-paginated page of sessions ordered by
// created_at DESC.
func (s *Service) ListHistory(cursor int64, limit int, status model.SessionStatus, peerDeviceID string) (*HistoryPage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	items, err := s.store.ListSessions(store.ListSessionsParams{
		CursorCreatedAtMS: cursor,
		Limit:             limit,
		Status:            status,
		PeerDeviceID:      peerDeviceID,
	})
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{Items: items}
	if len(items) == limit {
		page.NextCursor = items[len(items)-1].CreatedAtMS
	}
	return page, nil
}

// ClearHistory deletes sessions (cascading to their files) either entirely
// or older than olderThanDays, then emits history-sync.
func (s *Service) ClearHistory(all bool, olderThanDays int) (int64, error) {
	var threshold int64
	if !all {
		threshold = nowMS() - int64(olderThanDays)*24*60*60*1000
	}
	n, err := s.store.DeleteSessions(all, threshold)
	if err != nil {
		return 0, err
	}
	s.publisher.Publish(&session.Event{Type: session.EventHistorySync})
	return n, nil
}
