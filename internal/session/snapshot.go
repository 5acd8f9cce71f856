package session

import (
	"math"

	"github.com/meshdrop/transfer/internal/model"
)

// Snapshot is the progress payload emitted at most once per
// event_emit_interval_ms (terminal transitions always emit).
type Snapshot struct {
	Session          *model.Session
	ActiveFileID     string
	SpeedBPS         float64
	ETASeconds       *int64 // nil when speed <= 0
	ProtocolVersion  int
	Codec            string
	InflightChunks   int   // sender only, 0 for receiver
	RetransmitChunks int64 // sender only, 0 for receiver
}

// BuildSnapshot assembles a Snapshot, computing eta_seconds = ceil((total -
// transferred) / speed) when speed > 0, else leaving it absent.
func BuildSnapshot(sess *model.Session, activeFileID string, speedBPS float64, protocolVersion int, codec string, inflight int, retransmit int64) *Snapshot {
	snap := &Snapshot{
		Session:          sess,
		ActiveFileID:     activeFileID,
		SpeedBPS:         speedBPS,
		ProtocolVersion:  protocolVersion,
		Codec:            codec,
		InflightChunks:   inflight,
		RetransmitChunks: retransmit,
	}
	if speedBPS > 0 {
		remaining := sess.TotalBytes - sess.TransferredBytes
		if remaining < 0 {
			remaining = 0
		}
		eta := int64(math.Ceil(float64(remaining) / speedBPS))
		snap.ETASeconds = &eta
	}
	return snap
}
