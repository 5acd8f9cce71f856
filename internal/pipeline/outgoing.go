package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/meshdrop/transfer/internal/bitmap"
	"github.com/meshdrop/transfer/internal/chunkio"
	"github.com/meshdrop/transfer/internal/model"
	"github.com/meshdrop/transfer/internal/observability"
	"github.com/meshdrop/transfer/internal/session"
	"github.com/meshdrop/transfer/internal/wire"
)

// Persister is the narrow store surface the pipelines checkpoint through,
// kept separate from internal/store to avoid pulling the SQLite driver
// into unit tests.
type Persister interface {
	SaveSession(sess *model.Session) error
	SaveFilesBatch(files []*model.File) error
}

// FileRuntime is one file's live transfer state, held for the duration of
// a session's pipeline run (runtimes[i]).
type FileRuntime struct {
	Index           int
	File            *model.File
	Bitmap          *bitmap.Bitmap
	Reader          *chunkio.Reader // outgoing only
	Writer          *chunkio.Writer // incoming only
	RemainingChunks int64
	FileDoneSent    bool
}

// Outgoing runs one sender-side session: fair-queue scheduling, the
// inflight window, ack handling, retry/timeout, and checkpointing.
type Outgoing struct {
	conn  *wire.Conn
	sess  *model.Session
	files []*FileRuntime
	byID  map[string]int

	queue       *FairQueue
	inflight    map[ChunkKey]*InflightChunk
	retryCounts map[ChunkKey]int
	retransmit  int64

	maxInflight     int
	dbFlushInterval time.Duration
	emitIntervalMS  int64

	control   *session.Control
	store     Persister
	publisher *session.Publisher
	logger    *observability.Logger
	metrics   *observability.Metrics

	codecTag        string
	protocolVersion int

	startedAtMS int64
	dirty       map[int]bool
}

// NewOutgoing constructs an outgoing pipeline runtime for an already
// handshaken connection and a manifest both sides have agreed on.
func NewOutgoing(conn *wire.Conn, sess *model.Session, files []*FileRuntime, maxInflight int, dbFlushInterval time.Duration, emitIntervalMS int64, control *session.Control, store Persister, publisher *session.Publisher, logger *observability.Logger, metrics *observability.Metrics, codecTag string, protocolVersion int) *Outgoing {
	byID := make(map[string]int, len(files))
	for _, f := range files {
		byID[f.File.ID] = f.Index
	}
	return &Outgoing{
		conn:            conn,
		sess:            sess,
		files:           files,
		byID:            byID,
		inflight:        make(map[ChunkKey]*InflightChunk),
		retryCounts:     make(map[ChunkKey]int),
		maxInflight:     maxInflight,
		dbFlushInterval: dbFlushInterval,
		emitIntervalMS:  emitIntervalMS,
		control:         control,
		store:           store,
		publisher:       publisher,
		logger:          logger,
		metrics:         metrics,
		codecTag:        codecTag,
		protocolVersion: protocolVersion,
		startedAtMS:     time.Now().UnixMilli(),
		dirty:           make(map[int]bool),
	}
}

// Run drives the session to a terminal state: success, failed, or
// canceled. It returns nil only on success; callers inspect sess.Status
// for the final outcome.
func (o *Outgoing) Run(ctx context.Context) error {
	missing := make([][]int64, len(o.files))
	for i, f := range o.files {
		missing[i] = f.Bitmap.Missing()
		f.RemainingChunks = int64(len(missing[i]))
	}
	o.queue = BuildFairQueue(missing)

	lastCheckpoint := time.Now()

	for {
		if err := o.control.WaitWhilePaused(ctx); err != nil {
			o.finalizeError(err)
			return err
		}
		if o.control.Canceled() {
			o.finalizeCanceled()
			return ErrCanceled
		}
		select {
		case <-ctx.Done():
			o.finalizeError(ctx.Err())
			return ctx.Err()
		default:
		}

		if err := o.fillWindow(); err != nil {
			o.finalizeError(err)
			return err
		}

		if err := o.pollAcks(); err != nil {
			o.finalizeError(err)
			return err
		}

		if err := o.sweepTimeouts(); err != nil {
			o.finalizeError(err)
			return err
		}

		if time.Since(lastCheckpoint) >= o.dbFlushInterval {
			o.flushCheckpoint()
			lastCheckpoint = time.Now()
		}

		o.maybeEmitSnapshot(false)

		if o.queue.Empty() && len(o.inflight) == 0 {
			o.finalizeSuccess()
			return nil
		}
	}
}

func (o *Outgoing) fillWindow() error {
	for len(o.inflight) < o.maxInflight && !o.queue.Empty() {
		k, ok := o.queue.Pop()
		if !ok {
			break
		}
		if _, inFlight := o.inflight[k]; inFlight {
			continue
		}
		fr := o.files[k.FileIndex]
		if fr.Bitmap.IsDone(k.ChunkIndex) {
			continue
		}

		data, err := fr.Reader.ReadChunk(k.ChunkIndex, fr.File.ChunkSize)
		if err != nil {
			o.logger.Error(err, "failed to read source chunk")
			return err
		}
		hash := chunkio.HashChunk(data)

		if err := o.conn.Send(wire.TypeChunkBinary, &wire.ChunkBinary{
			SessionID:   o.sess.ID,
			FileID:      fr.File.ID,
			ChunkIndex:  k.ChunkIndex,
			TotalChunks: fr.File.ChunkCount,
			HashHex:     hash,
			Data:        data,
		}); err != nil {
			o.logger.Error(err, "failed to send chunk frame")
			o.queue.PushFront(k)
			return nil
		}

		o.inflight[k] = &InflightChunk{SentAtMS: time.Now().UnixMilli(), Retries: o.retryCounts[k]}
		if o.metrics != nil {
			o.metrics.RecordChunkSent(len(data))
		}
	}
	return nil
}

// pollAcks waits up to AckPollTimeout for one frame.
func (o *Outgoing) pollAcks() error {
	_ = o.conn.SetReadDeadline(time.Now().Add(AckPollTimeout))
	typ, body, err := o.conn.Recv()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	}

	switch typ {
	case wire.TypePing:
		return nil
	case wire.TypeErrorFrame:
		ef := body.(*wire.ErrorFrame)
		return fmt.Errorf("peer reported error %s: %s", ef.Code, ef.Message)
	case wire.TypeAck:
		return o.handleAckItem(body.(*wire.Ack).Item)
	case wire.TypeAckBatch:
		for _, item := range body.(*wire.AckBatch).Items {
			if err := o.handleAckItem(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unexpected frame type %s during transfer", typ)
	}
}

func (o *Outgoing) handleAckItem(item wire.AckItem) error {
	fi, ok := o.byID[item.FileID]
	if !ok {
		return nil
	}
	k := ChunkKey{FileIndex: fi, ChunkIndex: item.ChunkIndex}
	fr := o.files[fi]

	if item.OK {
		delete(o.inflight, k)
		delete(o.retryCounts, k)
		if err := fr.Bitmap.MarkDone(item.ChunkIndex); err == nil {
			o.recomputeTransferred()
		}
		o.dirty[fi] = true

		if fr.Bitmap.IsComplete() && !fr.FileDoneSent {
			fr.FileDoneSent = true
			if err := o.conn.Send(wire.TypeFileDone, &wire.FileDone{
				SessionID: o.sess.ID,
				FileID:    fr.File.ID,
				Blake3Hex: fr.File.Blake3,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	if item.Error == "" {
		item.Error = "unspecified"
	}
	o.logger.ChunkAckFailed(o.sess.ID, fr.File.ID, item.ChunkIndex, item.Error, o.retryCounts[k]+1)
	return o.retryOrFail(k)
}

func (o *Outgoing) sweepTimeouts() error {
	now := time.Now().UnixMilli()
	timeoutMS := ChunkAckTimeout.Milliseconds()
	for k, ic := range o.inflight {
		if now-ic.SentAtMS <= timeoutMS {
			continue
		}
		delete(o.inflight, k)
		if err := o.retryOrFailTimeout(k); err != nil {
			return err
		}
	}
	return nil
}

func (o *Outgoing) retryOrFail(k ChunkKey) error {
	o.retryCounts[k]++
	if o.retryCounts[k] > MaxChunkRetry {
		return ErrChunkRetryExhausted
	}
	o.retransmit++
	if o.metrics != nil {
		o.metrics.RecordChunkRetransmit("ack_failed")
	}
	o.queue.PushFront(k)
	return nil
}

func (o *Outgoing) retryOrFailTimeout(k ChunkKey) error {
	o.retryCounts[k]++
	if o.retryCounts[k] > MaxChunkRetry {
		return ErrChunkAckTimeout
	}
	o.retransmit++
	if o.metrics != nil {
		o.metrics.RecordChunkRetransmit("ack_timeout")
	}
	o.queue.PushFront(k)
	return nil
}

func (o *Outgoing) recomputeTransferred() {
	var sum int64
	for _, fr := range o.files {
		fr.File.TransferredBytes = fr.Bitmap.CompletedBytes(fr.File.ChunkSize, fr.File.SizeBytes)
		sum += fr.File.TransferredBytes
	}
	o.sess.TransferredBytes = sum
	speed := session.RollingSpeedBPS(sum, o.startedAtMS, time.Now().UnixMilli())
	o.control.RecordSpeed(speed)
	o.sess.AvgSpeedBPS = o.control.LastSpeedBPS()
}

func (o *Outgoing) flushCheckpoint() {
	if len(o.dirty) == 0 {
		if o.store != nil {
			_ = o.store.SaveSession(o.sess)
		}
		return
	}
	batch := make([]*model.File, 0, len(o.dirty))
	for fi := range o.dirty {
		fr := o.files[fi]
		fr.File.CompletedBitmap = fr.Bitmap.Serialize()
		fr.File.UpdatedAtMS = time.Now().UnixMilli()
		batch = append(batch, fr.File)
	}
	if o.store != nil {
		_ = o.store.SaveFilesBatch(batch)
		_ = o.store.SaveSession(o.sess)
	}
	o.dirty = make(map[int]bool)
}

func (o *Outgoing) activeFileID() string {
	for _, fr := range o.files {
		if !fr.Bitmap.IsComplete() {
			return fr.File.ID
		}
	}
	return ""
}

func (o *Outgoing) maybeEmitSnapshot(terminal bool) {
	if o.publisher == nil {
		return
	}
	if !o.control.ShouldEmit(time.Now(), o.emitIntervalMS, terminal) {
		return
	}
	snap := session.BuildSnapshot(o.sess, o.activeFileID(), o.control.LastSpeedBPS(), o.protocolVersion, o.codecTag, len(o.inflight), o.retransmit)
	o.publisher.Publish(&session.Event{Type: session.EventProgressSnapshot, SessionID: o.sess.ID, Snapshot: snap})
}

func (o *Outgoing) finalizeSuccess() {
	_ = o.conn.Send(wire.TypeSessionDone, &wire.SessionDone{SessionID: o.sess.ID, OK: true})
	o.sess.Status = model.StatusSuccess
	o.sess.FinishedAtMS = time.Now().UnixMilli()
	o.flushCheckpoint()
	o.maybeEmitSnapshot(true)
	if o.publisher != nil {
		o.publisher.Publish(&session.Event{Type: session.EventHistorySync, SessionID: o.sess.ID})
	}
	if o.logger != nil {
		o.logger.SessionTerminal(o.sess.ID, string(o.sess.Status), "", time.Since(time.UnixMilli(o.startedAtMS)))
	}
}

func (o *Outgoing) finalizeCanceled() {
	_ = o.conn.Send(wire.TypeSessionDone, &wire.SessionDone{SessionID: o.sess.ID, OK: false, Error: ErrCanceled.Error()})
	o.sess.Status = model.StatusCanceled
	o.sess.FinishedAtMS = time.Now().UnixMilli()
	o.flushCheckpoint()
	o.maybeEmitSnapshot(true)
	if o.publisher != nil {
		o.publisher.Publish(&session.Event{Type: session.EventHistorySync, SessionID: o.sess.ID})
	}
}

func (o *Outgoing) finalizeError(err error) {
	_ = o.conn.Send(wire.TypeSessionDone, &wire.SessionDone{SessionID: o.sess.ID, OK: false, Error: err.Error()})
	te := model.AsTransferError(err)
	o.sess.Status = model.StatusFailed
	o.sess.ErrorCode = te.Code
	o.sess.ErrorMessage = te.Message
	o.sess.FinishedAtMS = time.Now().UnixMilli()
	o.flushCheckpoint()
	o.maybeEmitSnapshot(true)
	if o.publisher != nil {
		o.publisher.Publish(&session.Event{Type: session.EventHistorySync, SessionID: o.sess.ID})
	}
	if o.logger != nil {
		o.logger.SessionTerminal(o.sess.ID, string(o.sess.Status), o.sess.ErrorCode, time.Since(time.UnixMilli(o.startedAtMS)))
	}
}
