// Package service is the facade the API layer and pairctl CLI call into:
// settings, pairing, peers, history, and send_files/retry_session. It owns
// the session registry and event publisher and is the single place that
// wires the store, discovery, pipeline, and handshake packages together.
package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshdrop/transfer/internal/config"
	"github.com/meshdrop/transfer/internal/discovery"
	"github.com/meshdrop/transfer/internal/identity"
	"github.com/meshdrop/transfer/internal/model"
	"github.com/meshdrop/transfer/internal/observability"
	"github.com/meshdrop/transfer/internal/session"
	"github.com/meshdrop/transfer/internal/store"
)

// Store is the narrow persistence surface the facade needs, satisfied by
// *store.Store. Kept as an interface so facade tests can substitute an
// in-memory double without pulling in the SQLite driver.
type Store interface {
	LoadSettings() (config.Settings, error)
	SaveSettings(config.Settings) error

	SaveSession(*model.Session) error
	LoadSession(id string) (*model.Session, error)
	ListSessions(store.ListSessionsParams) ([]*model.Session, error)
	DeleteSessions(all bool, olderThanCreatedAtMS int64) (int64, error)
	AssignCleanupDeadlines(retainMS int64) error
	DeleteExpiredSessions(nowMS int64) (int64, error)

	SaveFilesBatch([]*model.File) error
	LoadFilesForSession(sessionID string) ([]*model.File, error)

	GetPeer(deviceID string) (*model.Peer, error)
	UpsertPeer(*model.Peer) error
	ListPeers() ([]*model.Peer, error)
}

// Service is the transfer engine's facade; every public engine operation
// is a method on it.
type Service struct {
	store     Store
	identity  *identity.Identity
	logger    *observability.Logger
	metrics   *observability.Metrics
	discovery *discovery.Service
	registry  *session.Registry
	publisher *session.Publisher
	port      int

	settingsMu sync.RWMutex
	settings   config.Settings

	pairMu   sync.RWMutex
	pairCode *model.PairingCode

	peerFailMu sync.Mutex
}

// New constructs the facade, loading persisted settings (or defaults on
// first run).
func New(st Store, id *identity.Identity, disc *discovery.Service, registry *session.Registry, publisher *session.Publisher, logger *observability.Logger, metrics *observability.Metrics, port int) (*Service, error) {
	settings, err := st.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return &Service{
		store:     st,
		identity:  id,
		logger:    logger,
		metrics:   metrics,
		discovery: disc,
		registry:  registry,
		publisher: publisher,
		port:      port,
		settings:  settings,
	}, nil
}

// Subscribe registers a listener for progress-snapshot/history-sync events.
func (s *Service) Subscribe() *session.Subscription { return s.publisher.Subscribe() }

func newID() string { return uuid.New().String() }

func nowMS() int64 { return time.Now().UnixMilli() }
