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

// IncomingConfig carries the receiver-side tunables (ack_batch_size,
// ack_flush_interval_ms).
type IncomingConfig struct {
	AckBatchSize      int
	AckFlushInterval  time.Duration
	DBFlushInterval   time.Duration
	EventEmitInterval int64
	// AckBatchEnabled mirrors the negotiated ack_batch capability; when
	// false every buffered item goes out as its own Ack frame.
	AckBatchEnabled bool
}

// Incoming runs one receiver-side session: manifest bootstrap, per-chunk
// verify-and-write, batched acking, and file/session finalization.
type Incoming struct {
	conn  *wire.Conn
	sess  *model.Session
	files []*FileRuntime
	byID  map[string]int

	cfg IncomingConfig

	control   *session.Control
	store     Persister
	publisher *session.Publisher
	logger    *observability.Logger
	metrics   *observability.Metrics

	codecTag        string
	protocolVersion int

	ackBuf        []wire.AckItem
	lastAckFlush  time.Time
	startedAtMS   int64
	dirty         map[int]bool
	receivedCount int64
}

// NewIncoming constructs a receiver pipeline runtime. files must already
// have Writer opened against each file's ".part" path and Bitmap loaded
// from any prior checkpoint.
func NewIncoming(conn *wire.Conn, sess *model.Session, files []*FileRuntime, cfg IncomingConfig, control *session.Control, store Persister, publisher *session.Publisher, logger *observability.Logger, metrics *observability.Metrics, codecTag string, protocolVersion int) *Incoming {
	byID := make(map[string]int, len(files))
	for _, f := range files {
		byID[f.File.ID] = f.Index
	}
	return &Incoming{
		conn:            conn,
		sess:            sess,
		files:           files,
		byID:            byID,
		cfg:             cfg,
		control:         control,
		store:           store,
		publisher:       publisher,
		logger:          logger,
		metrics:         metrics,
		codecTag:        codecTag,
		protocolVersion: protocolVersion,
		lastAckFlush:    time.Now(),
		startedAtMS:     time.Now().UnixMilli(),
		dirty:           make(map[int]bool),
	}
}

// BuildManifestAck computes the per-file missing chunk ranges for the
// first ManifestAck reply.
func (in *Incoming) BuildManifestAck() *wire.ManifestAck {
	ack := &wire.ManifestAck{SessionID: in.sess.ID, MissingChunksByFile: map[string]string{}}
	for _, fr := range in.files {
		missing := fr.Bitmap.Missing()
		ack.MissingChunksByFile[fr.File.ID] = wire.CompressChunkRanges(missing)
	}
	return ack
}

// Run drives the receive loop to a terminal state.
func (in *Incoming) Run(ctx context.Context) error {
	lastCheckpoint := time.Now()

	for {
		if err := in.control.WaitWhilePaused(ctx); err != nil {
			in.finalizeError(err)
			return err
		}
		if in.control.Canceled() {
			in.finalizeCanceled()
			return ErrCanceled
		}
		select {
		case <-ctx.Done():
			in.finalizeError(ctx.Err())
			return ctx.Err()
		default:
		}

		_ = in.conn.SetReadDeadline(time.Now().Add(AckPollTimeout))
		typ, body, err := in.conn.Recv()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				in.flushAcksIfDue()
				in.checkpointIfDue(&lastCheckpoint)
				in.maybeEmitSnapshot(false)
				continue
			}
			in.finalizeError(err)
			return err
		}

		switch typ {
		case wire.TypePing:
			// keepalive, no action
		case wire.TypeChunkBinary:
			if err := in.handleChunk(body.(*wire.ChunkBinary)); err != nil {
				in.finalizeError(err)
				return err
			}
		case wire.TypeFileDone:
			if err := in.handleFileDone(body.(*wire.FileDone)); err != nil {
				in.finalizeError(err)
				return err
			}
		case wire.TypeSessionDone:
			sd := body.(*wire.SessionDone)
			if !sd.OK {
				if sd.Error == ErrCanceled.Error() {
					in.finalizeCanceled()
					return ErrCanceled
				}
				err := model.NewTransferError(ErrRemoteFailed.Error(), sd.Error)
				in.finalizeError(err)
				return err
			}
			in.finalizeSuccess()
			return nil
		case wire.TypeErrorFrame:
			ef := body.(*wire.ErrorFrame)
			err := fmt.Errorf("peer reported error %s: %s", ef.Code, ef.Message)
			in.finalizeError(err)
			return err
		default:
			in.finalizeError(fmt.Errorf("unexpected frame type %s during transfer", typ))
			return fmt.Errorf("unexpected frame type %s", typ)
		}

		in.flushAcksIfDue()
		in.checkpointIfDue(&lastCheckpoint)
		in.maybeEmitSnapshot(false)
	}
}

func (in *Incoming) handleChunk(c *wire.ChunkBinary) error {
	fi, ok := in.byID[c.FileID]
	if !ok {
		return fmt.Errorf("chunk for unknown file %s", c.FileID)
	}
	fr := in.files[fi]

	got := chunkio.HashChunk(c.Data)
	if got != c.HashHex {
		in.queueAck(wire.AckItem{FileID: c.FileID, ChunkIndex: c.ChunkIndex, OK: false, Error: ErrChunkHashMismatch.Error()})
		in.logger.ChunkAckFailed(in.sess.ID, c.FileID, c.ChunkIndex, ErrChunkHashMismatch.Error(), 0)
		return nil
	}

	if err := fr.Writer.WriteChunk(c.ChunkIndex, fr.File.ChunkSize, c.Data); err != nil {
		in.queueAck(wire.AckItem{FileID: c.FileID, ChunkIndex: c.ChunkIndex, OK: false, Error: err.Error()})
		return nil
	}

	if err := fr.Bitmap.MarkDone(c.ChunkIndex); err != nil {
		in.queueAck(wire.AckItem{FileID: c.FileID, ChunkIndex: c.ChunkIndex, OK: false, Error: err.Error()})
		return nil
	}

	fr.File.TransferredBytes = fr.Bitmap.CompletedBytes(fr.File.ChunkSize, fr.File.SizeBytes)
	in.recomputeTransferred()
	in.dirty[fi] = true
	in.receivedCount++
	if in.metrics != nil {
		in.metrics.RecordChunkReceived(len(c.Data))
	}

	in.queueAck(wire.AckItem{FileID: c.FileID, ChunkIndex: c.ChunkIndex, OK: true})
	return nil
}

func (in *Incoming) handleFileDone(fd *wire.FileDone) error {
	fi, ok := in.byID[fd.FileID]
	if !ok {
		return fmt.Errorf("file_done for unknown file %s", fd.FileID)
	}
	fr := in.files[fi]

	if !fr.Bitmap.IsComplete() {
		return fmt.Errorf("file_done received for %s before all chunks arrived", fd.FileID)
	}

	in.flushAcks()
	if err := fr.Writer.Flush(); err != nil {
		return err
	}
	if err := fr.Writer.Close(); err != nil {
		return err
	}

	sum, err := chunkio.HashFile(fr.Writer.Path())
	if err != nil {
		return err
	}
	if sum != fd.Blake3Hex {
		// The on-disk bytes are untrustworthy; reset the bitmap so a retry
		// re-fetches every chunk.
		fr.Bitmap.Deserialize(fr.File.ChunkCount, nil)
		fr.File.CompletedBitmap = fr.Bitmap.Serialize()
		fr.File.TransferredBytes = 0
		fr.File.Status = model.FileFailed
		in.dirty[fi] = true
		return fmt.Errorf("%w: file %s", ErrFileHashMismatch, fd.FileID)
	}

	finalPath, err := chunkio.ResolveConflictPath(fr.File.TargetPath)
	if err != nil {
		return err
	}
	if err := chunkio.FinalizeRename(fr.Writer.Path(), finalPath); err != nil {
		return err
	}
	fr.File.TargetPath = finalPath
	fr.File.Status = model.FileSuccess
	in.dirty[fi] = true
	return nil
}

func (in *Incoming) queueAck(item wire.AckItem) {
	in.ackBuf = append(in.ackBuf, item)
	if len(in.ackBuf) >= in.cfg.AckBatchSize {
		in.flushAcks()
	}
}

func (in *Incoming) flushAcksIfDue() {
	if len(in.ackBuf) == 0 {
		return
	}
	if time.Since(in.lastAckFlush) >= in.cfg.AckFlushInterval {
		in.flushAcks()
	}
}

func (in *Incoming) flushAcks() {
	if len(in.ackBuf) == 0 {
		in.lastAckFlush = time.Now()
		return
	}
	if len(in.ackBuf) > 1 && in.cfg.AckBatchEnabled {
		_ = in.conn.Send(wire.TypeAckBatch, &wire.AckBatch{SessionID: in.sess.ID, Items: append([]wire.AckItem(nil), in.ackBuf...)})
	} else {
		for _, item := range in.ackBuf {
			_ = in.conn.Send(wire.TypeAck, &wire.Ack{SessionID: in.sess.ID, Item: item})
		}
	}
	in.ackBuf = in.ackBuf[:0]
	in.lastAckFlush = time.Now()
}

func (in *Incoming) checkpointIfDue(last *time.Time) {
	if time.Since(*last) < in.cfg.DBFlushInterval {
		return
	}
	in.flushCheckpoint()
	*last = time.Now()
}

func (in *Incoming) flushCheckpoint() {
	if len(in.dirty) == 0 {
		if in.store != nil {
			_ = in.store.SaveSession(in.sess)
		}
		return
	}
	batch := make([]*model.File, 0, len(in.dirty))
	for fi := range in.dirty {
		fr := in.files[fi]
		fr.File.CompletedBitmap = fr.Bitmap.Serialize()
		fr.File.UpdatedAtMS = time.Now().UnixMilli()
		batch = append(batch, fr.File)
	}
	if in.store != nil {
		_ = in.store.SaveFilesBatch(batch)
		_ = in.store.SaveSession(in.sess)
	}
	in.dirty = make(map[int]bool)
}

func (in *Incoming) recomputeTransferred() {
	var sum int64
	for _, fr := range in.files {
		sum += fr.File.TransferredBytes
	}
	in.sess.TransferredBytes = sum
	speed := session.RollingSpeedBPS(sum, in.startedAtMS, time.Now().UnixMilli())
	in.control.RecordSpeed(speed)
	in.sess.AvgSpeedBPS = in.control.LastSpeedBPS()
}

func (in *Incoming) activeFileID() string {
	for _, fr := range in.files {
		if !fr.Bitmap.IsComplete() {
			return fr.File.ID
		}
	}
	return ""
}

func (in *Incoming) maybeEmitSnapshot(terminal bool) {
	if in.publisher == nil {
		return
	}
	if !in.control.ShouldEmit(time.Now(), in.cfg.EventEmitInterval, terminal) {
		return
	}
	snap := session.BuildSnapshot(in.sess, in.activeFileID(), in.control.LastSpeedBPS(), in.protocolVersion, in.codecTag, 0, 0)
	in.publisher.Publish(&session.Event{Type: session.EventProgressSnapshot, SessionID: in.sess.ID, Snapshot: snap})
}

func (in *Incoming) finalizeSuccess() {
	in.flushAcks()
	in.sess.Status = model.StatusSuccess
	in.sess.FinishedAtMS = time.Now().UnixMilli()
	in.flushCheckpoint()
	in.maybeEmitSnapshot(true)
	if in.publisher != nil {
		in.publisher.Publish(&session.Event{Type: session.EventHistorySync, SessionID: in.sess.ID})
	}
	if in.logger != nil {
		in.logger.SessionTerminal(in.sess.ID, string(in.sess.Status), "", time.Since(time.UnixMilli(in.startedAtMS)))
	}
}

func (in *Incoming) finalizeCanceled() {
	in.flushAcks()
	_ = in.conn.Send(wire.TypeSessionDone, &wire.SessionDone{SessionID: in.sess.ID, OK: false, Error: ErrCanceled.Error()})
	in.sess.Status = model.StatusCanceled
	in.sess.FinishedAtMS = time.Now().UnixMilli()
	in.flushCheckpoint()
	in.maybeEmitSnapshot(true)
	for _, fr := range in.files {
		_ = fr.Writer.Close()
	}
	if in.publisher != nil {
		in.publisher.Publish(&session.Event{Type: session.EventHistorySync, SessionID: in.sess.ID})
	}
}

func (in *Incoming) finalizeError(err error) {
	in.flushAcks()
	_ = in.conn.Send(wire.TypeSessionDone, &wire.SessionDone{SessionID: in.sess.ID, OK: false, Error: err.Error()})
	te := model.AsTransferError(err)
	in.sess.Status = model.StatusFailed
	in.sess.ErrorCode = te.Code
	in.sess.ErrorMessage = te.Message
	in.sess.FinishedAtMS = time.Now().UnixMilli()
	in.flushCheckpoint()
	in.maybeEmitSnapshot(true)
	for _, fr := range in.files {
		_ = fr.Writer.Close()
	}
	if in.publisher != nil {
		in.publisher.Publish(&session.Event{Type: session.EventHistorySync, SessionID: in.sess.ID})
	}
	if in.logger != nil {
		in.logger.SessionTerminal(in.sess.ID, string(in.sess.Status), in.sess.ErrorCode, time.Since(time.UnixMilli(in.startedAtMS)))
	}
}

// NewFileRuntimeForReceive opens a Writer and an Empty/FromBytes bitmap for
// one incoming file (open or create the .part file and preallocate).
func NewFileRuntimeForReceive(index int, f *model.File, partPath string) (*FileRuntime, error) {
	w, err := chunkio.OpenWriter(partPath, f.SizeBytes)
	if err != nil {
		return nil, err
	}
	var bm *bitmap.Bitmap
	if len(f.CompletedBitmap) > 0 {
		bm = bitmap.FromBytes(f.ChunkCount, f.CompletedBitmap)
	} else {
		bm = bitmap.Empty(f.ChunkCount)
	}
	return &FileRuntime{Index: index, File: f, Bitmap: bm, Writer: w}, nil
}
