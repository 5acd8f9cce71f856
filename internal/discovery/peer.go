package discovery

import (
	"sort"
	"time"

	"github.com/meshdrop/transfer/internal/model"
)

// PeerTTL is how long an online sighting survives without a refresh
// (evicted when last_seen_at is older than 15 seconds).
const PeerTTL = 15 * time.Second

// BroadcastInterval is how often the broadcast loop announces this device
// (every 3 seconds).
const BroadcastInterval = 3 * time.Second

// OnlinePeer is one entry of the in-memory discovery map.
type OnlinePeer struct {
	DeviceID     string
	DisplayName  string
	Address      string
	ListenPort   int
	LastSeenAtMS int64
}

// MergedPeer is what ListOnlinePeers returns: the union of an online
// sighting and any persisted peer record, sorted for display.
type MergedPeer struct {
	DeviceID       string
	DisplayName    string
	Address        string
	ListenPort     int
	LastSeenAtMS   int64
	Online         bool
	PairedAtMS     int64
	Trust          model.TrustLevel
	FailedAttempts int
	BlockedUntilMS int64
}

// MergeWithStored merges live and durable peer records: stored peers
// take precedence for paired_at/trust_level/failed_attempts/blocked_until;
// online entries overwrite address/display_name/listen_port/last_seen_at
// and set online=true. Result sorted by (online DESC, last_seen_at DESC).
func MergeWithStored(online map[string]OnlinePeer, stored []*model.Peer) []MergedPeer {
	byID := make(map[string]*MergedPeer, len(stored)+len(online))

	for _, p := range stored {
		byID[p.DeviceID] = &MergedPeer{
			DeviceID:       p.DeviceID,
			DisplayName:    p.DisplayName,
			Address:        p.Address,
			ListenPort:     p.ListenPort,
			LastSeenAtMS:   p.LastSeenAtMS,
			PairedAtMS:     p.PairedAtMS,
			Trust:          p.Trust,
			FailedAttempts: p.FailedAttempts,
			BlockedUntilMS: p.BlockedUntilMS,
		}
	}

	for id, o := range online {
		m, ok := byID[id]
		if !ok {
			m = &MergedPeer{DeviceID: id}
			byID[id] = m
		}
		m.DisplayName = o.DisplayName
		m.Address = o.Address
		m.ListenPort = o.ListenPort
		m.LastSeenAtMS = o.LastSeenAtMS
		m.Online = true
	}

	out := make([]MergedPeer, 0, len(byID))
	for _, m := range byID {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Online != out[j].Online {
			return out[i].Online // true (online) sorts first
		}
		return out[i].LastSeenAtMS > out[j].LastSeenAtMS
	})
	return out
}
