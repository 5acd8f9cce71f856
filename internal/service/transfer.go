package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/meshdrop/transfer/internal/bitmap"
	"github.com/meshdrop/transfer/internal/chunkio"
	"github.com/meshdrop/transfer/internal/handshake"
	"github.com/meshdrop/transfer/internal/model"
	"github.com/meshdrop/transfer/internal/pipeline"
	"github.com/meshdrop/transfer/internal/session"
	"github.com/meshdrop/transfer/internal/validation"
	"github.com/meshdrop/transfer/internal/wire"
)

// ErrPeerOffline is returned when send_files/retry_session can't resolve a
// reachable address for the target peer via the discovery map.
var ErrPeerOffline = errors.New("transfer_peer_connect_failed")

// ErrSessionNotRetryable is returned for sessions not in a retryable state.
var ErrSessionNotRetryable = errors.New("transfer_session_not_retryable")

// dialTimeout bounds the outgoing TCP connect attempt.
const dialTimeout = 5 * time.Second

// SendFileSpec names one local file or folder to transfer, with an
// optional wire-relative path override. When CompressFolder is set, Path
// names a directory that is zipped into a temporary archive before sending.
type SendFileSpec struct {
	Path           string
	RelativePath   string
	CompressFolder bool
}

// SendFilesRequest is send_files' input.
type SendFilesRequest struct {
	PeerDeviceID string
	PairCode     string
	Files        []SendFileSpec
	SessionID    string
}

// SendFiles atomically prepares a session, persists it, and spawns the
// outgoing pipeline worker.
func (s *Service) SendFiles(req SendFilesRequest) (*model.Session, error) {
	if err := validation.ValidateStringNonEmpty(req.PeerDeviceID); err != nil {
		return nil, fmt.Errorf("transfer_invalid_peer_device_id: %w", err)
	}
	for _, spec := range req.Files {
		if err := validation.ValidateFilePath(spec.Path, true); err != nil {
			return nil, fmt.Errorf("transfer_invalid_source_path: %w", err)
		}
	}

	addr, err := s.resolvePeerAddr(req.PeerDeviceID)
	if err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = newID()
	}

	settings := s.GetSettings()
	chunkSize := settings.ChunkSizeBytes()

	sess := &model.Session{
		ID:           sessionID,
		Direction:    model.DirectionSend,
		PeerDeviceID: req.PeerDeviceID,
		Status:       model.StatusQueued,
		CreatedAtMS:  nowMS(),
		PairCode:     req.PairCode,
	}

	files := make([]*model.File, 0, len(req.Files))
	for _, spec := range req.Files {
		f, err := buildOutgoingFile(sessionID, spec, chunkSize)
		if err != nil {
			cleanupSessionArchives(sessionID)
			return nil, err
		}
		sess.TotalBytes += f.SizeBytes
		files = append(files, f)
	}

	if err := s.store.SaveSession(sess); err != nil {
		cleanupSessionArchives(sessionID)
		return nil, err
	}
	if err := s.store.SaveFilesBatch(files); err != nil {
		cleanupSessionArchives(sessionID)
		return nil, err
	}

	go s.runOutgoingSession(context.Background(), addr, sess, files)

	return sess, nil
}

// RetrySession re-sends a previously failed/interrupted/canceled send
// session, reusing its stored pair code.
func (s *Service) RetrySession(sessionID string) (*model.Session, error) {
	sess, err := s.store.LoadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Direction != model.DirectionSend {
		return nil, ErrSessionNotRetryable
	}
	switch sess.Status {
	case model.StatusFailed, model.StatusInterrupted, model.StatusCanceled:
	default:
		return nil, ErrSessionNotRetryable
	}

	files, err := s.store.LoadFilesForSession(sessionID)
	if err != nil {
		return nil, err
	}

	addr, err := s.resolvePeerAddr(sess.PeerDeviceID)
	if err != nil {
		return nil, err
	}

	sess.Status = model.StatusQueued
	sess.ErrorCode = ""
	sess.ErrorMessage = ""
	sess.FinishedAtMS = 0
	if err := s.store.SaveSession(sess); err != nil {
		return nil, err
	}

	go s.runOutgoingSession(context.Background(), addr, sess, files)

	return sess, nil
}

func buildOutgoingFile(sessionID string, spec SendFileSpec, chunkSize int64) (*model.File, error) {
	sourcePath := spec.Path
	relPath := spec.RelativePath
	isArchive := false

	if spec.CompressFolder {
		archivePath := filepath.Join(sessionArchiveDir(sessionID), filepath.Base(spec.Path)+".zip")
		if err := chunkio.ArchiveFolder(spec.Path, archivePath); err != nil {
			return nil, err
		}
		sourcePath = archivePath
		if relPath == "" {
			relPath = filepath.Base(spec.Path) + ".zip"
		}
		isArchive = true
	}

	src, err := chunkio.OpenReader(sourcePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	sum, err := chunkio.HashFile(sourcePath)
	if err != nil {
		return nil, err
	}

	size, err := fileSize(sourcePath)
	if err != nil {
		return nil, err
	}

	if relPath == "" {
		relPath = chunkio.NormalizeSlashes(sourcePath)
	}

	f := &model.File{
		ID:              newID(),
		SessionID:       sessionID,
		RelativePath:    relPath,
		SourcePath:      sourcePath,
		SizeBytes:       size,
		ChunkSize:       chunkSize,
		ChunkCount:      model.ChunkCountFor(size, chunkSize),
		Blake3:          sum,
		Status:          model.FileQueued,
		IsFolderArchive: isArchive,
		UpdatedAtMS:     nowMS(),
	}
	if isArchive {
		f.MimeType = "application/zip"
	}
	return f, nil
}

// sessionArchiveDir is where a session's temporary folder archives live
// until its terminal transition removes them.
func sessionArchiveDir(sessionID string) string {
	return filepath.Join(os.TempDir(), "meshdrop-archives", sessionID)
}

// cleanupSessionArchives removes a session's temporary folder archives.
// Called on every terminal transition, including failures.
func cleanupSessionArchives(sessionID string) {
	_ = os.RemoveAll(sessionArchiveDir(sessionID))
}

func (s *Service) resolvePeerAddr(peerDeviceID string) (string, error) {
	if s.discovery != nil {
		if p, ok := s.discovery.Snapshot()[peerDeviceID]; ok {
			return fmt.Sprintf("%s:%d", p.Address, p.ListenPort), nil
		}
	}
	return "", ErrPeerOffline
}

// runOutgoingSession dials the peer, runs the handshake and manifest
// exchange, then drives the outgoing pipeline to completion.
func (s *Service) runOutgoingSession(ctx context.Context, addr string, sess *model.Session, files []*model.File) {
	control := s.registry.Start(sess.ID)
	defer s.registry.Finish(sess.ID)
	defer cleanupSessionArchives(sess.ID)

	startedAt := time.Now()
	sess.Status = model.StatusRunning
	sess.StartedAtMS = nowMS()
	_ = s.store.SaveSession(sess)
	if s.metrics != nil {
		s.metrics.RecordSessionStart()
	}

	nc, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		s.finalizeOutgoingFailure(sess, fmt.Errorf("%w: %v", ErrPeerOffline, err))
		return
	}
	defer nc.Close()
	if s.metrics != nil {
		s.metrics.RecordTCPConnection(true)
	}

	conn := wire.NewConn(nc)
	hsResult, err := handshake.ClientDial(conn, s.identity.DeviceID, s.identity.DeviceName, sess.PairCode)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordHandshakeFailure("client_dial")
		}
		s.finalizeOutgoingFailure(sess, err)
		return
	}
	sess.PeerName = hsResult.PeerName

	manifest := &wire.Manifest{SessionID: sess.ID, Direction: string(model.DirectionSend), SaveDir: sess.SaveDir}
	for _, f := range files {
		manifest.Files = append(manifest.Files, wire.ManifestFile{
			FileID: f.ID, RelativePath: f.RelativePath, SizeBytes: f.SizeBytes,
			ChunkSize: f.ChunkSize, ChunkCount: f.ChunkCount, Blake3Hex: f.Blake3,
			MimeType: f.MimeType, IsFolderArchive: f.IsFolderArchive,
		})
	}
	if err := conn.Send(wire.TypeManifest, manifest); err != nil {
		s.finalizeOutgoingFailure(sess, err)
		return
	}

	typ, body, err := conn.Recv()
	if err != nil {
		s.finalizeOutgoingFailure(sess, err)
		return
	}
	if typ != wire.TypeManifestAck {
		s.finalizeOutgoingFailure(sess, fmt.Errorf("expected manifest_ack, got %s", typ))
		return
	}
	ack := body.(*wire.ManifestAck)

	runtimes := make([]*pipeline.FileRuntime, 0, len(files))
	for i, f := range files {
		reader, err := chunkio.OpenReader(f.SourcePath)
		if err != nil {
			s.finalizeOutgoingFailure(sess, err)
			return
		}
		defer reader.Close()

		missing, err := wire.DecompressChunkRanges(ack.MissingChunksByFile[f.ID])
		if err != nil {
			s.finalizeOutgoingFailure(sess, err)
			return
		}
		bm := bitmapFromMissing(f.ChunkCount, missing)
		f.TransferredBytes = bm.CompletedBytes(f.ChunkSize, f.SizeBytes)
		f.Status = model.FileRunning

		runtimes = append(runtimes, &pipeline.FileRuntime{Index: i, File: f, Bitmap: bm, Reader: reader})
	}

	settings := s.GetSettings()
	// Without the negotiated pipelining capability the peer expects at most
	// one chunk outstanding at a time.
	maxInflight := settings.MaxInflightChunks
	if !wire.CapabilityEnabled(wire.CapPipelining, wire.DefaultCapabilities(), hsResult.PeerCapabilities, hsResult.PeerVersion) {
		maxInflight = 1
	}
	out := pipeline.NewOutgoing(conn, sess, runtimes, maxInflight, settings.DBFlushInterval(),
		int64(settings.EventEmitIntervalMS), control, s.store, s.publisher, s.logger, s.metrics, hsResult.Codec.Name(), hsResult.PeerVersion)

	runErr := out.Run(ctx)
	if s.metrics != nil {
		s.metrics.RecordSessionComplete(string(sess.Status), time.Since(startedAt).Seconds())
	}
	if runErr != nil && s.logger != nil {
		s.logger.Error(runErr, "outgoing session ended with error")
	}
}

func (s *Service) finalizeOutgoingFailure(sess *model.Session, err error) {
	te := model.AsTransferError(err)
	sess.Status = model.StatusFailed
	sess.ErrorCode = te.Code
	sess.ErrorMessage = te.Message
	sess.FinishedAtMS = nowMS()
	_ = s.store.SaveSession(sess)
	if s.publisher != nil {
		s.publisher.Publish(&session.Event{Type: session.EventHistorySync, SessionID: sess.ID})
	}
	if s.metrics != nil {
		s.metrics.RecordSessionComplete(string(sess.Status), 0)
	}
}

func bitmapFromMissing(chunkCount int64, missing []int64) *bitmap.Bitmap {
	bm := bitmap.Empty(chunkCount)
	missingSet := make(map[int64]bool, len(missing))
	for _, k := range missing {
		missingSet[k] = true
	}
	for k := int64(0); k < chunkCount; k++ {
		if !missingSet[k] {
			_ = bm.MarkDone(k)
		}
	}
	return bm
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("transfer_source_stat_failed: %w", err)
	}
	return info.Size(), nil
}
