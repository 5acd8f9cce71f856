package service

import (
	"github.com/meshdrop/transfer/internal/discovery"
	"github.com/meshdrop/transfer/internal/model"
)

// ListPeers merges the live discovery map with durably-known peers, plus
// any device seen on a prior run but never paired, surfaced from the
// durable sighting cache so it doesn't vanish from the list the moment it
// goes offline.
func (s *Service) ListPeers() ([]discovery.MergedPeer, error) {
	stored, err := s.store.ListPeers()
	if err != nil {
		return nil, err
	}

	knownIDs := make(map[string]bool, len(stored))
	for _, p := range stored {
		knownIDs[p.DeviceID] = true
	}

	var online map[string]discovery.OnlinePeer
	if s.discovery != nil {
		online = s.discovery.Snapshot()
		if cached, err := s.discovery.CachedPeers(); err == nil {
			for _, c := range cached {
				if knownIDs[c.DeviceID] {
					continue
				}
				if _, isOnline := online[c.DeviceID]; isOnline {
					continue
				}
				stored = append(stored, &model.Peer{
					DeviceID:     c.DeviceID,
					DisplayName:  c.DisplayName,
					LastSeenAtMS: c.LastSeenAtMS,
					Trust:        model.TrustOther,
				})
				knownIDs[c.DeviceID] = true
			}
		}
	}

	return discovery.MergeWithStored(online, stored), nil
}
