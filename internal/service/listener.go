package service

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/meshdrop/transfer/internal/chunkio"
	"github.com/meshdrop/transfer/internal/handshake"
	"github.com/meshdrop/transfer/internal/model"
	"github.com/meshdrop/transfer/internal/pipeline"
	"github.com/meshdrop/transfer/internal/wire"
)

// acceptRateLimit/acceptBurst bound how fast the listener accepts new
// connections, guarding against a connect flood before a single handshake
// has a chance to apply its own failed-attempt lockout.
const (
	acceptRateLimit = 20 // per second
	acceptBurst     = 40
)

// Listen runs the TCP accept loop until ctx is canceled, spawning one
// incoming-session goroutine per connection.
func (s *Service) Listen(ctx context.Context, ln net.Listener) error {
	limiter := rate.NewLimiter(rate.Limit(acceptRateLimit), acceptBurst)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if err := limiter.Wait(ctx); err != nil {
			_ = nc.Close()
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordTCPConnection(true)
		}
		go s.handleIncomingConn(ctx, nc)
	}
}

func (s *Service) handleIncomingConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	if s.logger != nil {
		s.logger.ConnectionEstablished(nc.RemoteAddr().String())
	}

	conn := wire.NewConn(nc)
	hsResult, err := handshake.ServerAccept(conn, s.identity.DeviceID, s.identity.DeviceName, s)
	if err != nil {
		if s.logger != nil {
			s.logger.HandshakeFailed(nc.RemoteAddr().String(), err.Error())
		}
		return
	}

	typ, body, err := conn.Recv()
	if err != nil {
		return
	}
	if typ != wire.TypeManifest {
		_ = conn.Send(wire.TypeErrorFrame, &wire.ErrorFrame{Code: "transfer_protocol_frame_invalid", Message: "expected manifest"})
		return
	}
	manifest := body.(*wire.Manifest)

	settings := s.GetSettings()
	saveDir := settings.DefaultDownloadDir

	sess := &model.Session{
		ID: manifest.SessionID, Direction: model.DirectionReceive, PeerDeviceID: hsResult.PeerDeviceID,
		PeerName: hsResult.PeerName, Status: model.StatusRunning, SaveDir: saveDir,
		CreatedAtMS: nowMS(), StartedAtMS: nowMS(),
	}

	// A reconnect for a known session resumes from the checkpointed
	// bitmaps instead of re-receiving everything.
	storedBitmaps := map[string][]byte{}
	if settings.ResumeEnabled {
		if stored, err := s.store.LoadFilesForSession(sess.ID); err == nil {
			for _, sf := range stored {
				storedBitmaps[sf.ID] = sf.CompletedBitmap
			}
		}
	}

	files := make([]*model.File, 0, len(manifest.Files))
	runtimes := make([]*pipeline.FileRuntime, 0, len(manifest.Files))
	for i, mf := range manifest.Files {
		targetPath := chunkio.LocalizePath(saveDir, mf.RelativePath)
		f := &model.File{
			ID: mf.FileID, SessionID: sess.ID, RelativePath: mf.RelativePath, TargetPath: targetPath,
			SizeBytes: mf.SizeBytes, ChunkSize: mf.ChunkSize, ChunkCount: mf.ChunkCount, Blake3: mf.Blake3Hex,
			MimeType: mf.MimeType, IsFolderArchive: mf.IsFolderArchive, Status: model.FileRunning, UpdatedAtMS: nowMS(),
			CompletedBitmap: storedBitmaps[mf.FileID],
		}
		sess.TotalBytes += f.SizeBytes

		fr, err := pipeline.NewFileRuntimeForReceive(i, f, chunkio.PartPath(targetPath, sess.ID))
		if err != nil {
			_ = conn.Send(wire.TypeErrorFrame, &wire.ErrorFrame{Code: "transfer_target_open_failed", Message: err.Error()})
			return
		}
		f.TransferredBytes = fr.Bitmap.CompletedBytes(f.ChunkSize, f.SizeBytes)
		sess.TransferredBytes += f.TransferredBytes
		files = append(files, f)
		runtimes = append(runtimes, fr)
	}

	if err := s.store.SaveSession(sess); err != nil {
		return
	}
	if err := s.store.SaveFilesBatch(files); err != nil {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSessionStart()
	}

	in := pipeline.NewIncoming(conn, sess, runtimes,
		pipeline.IncomingConfig{
			AckBatchSize:      settings.AckBatchSize,
			AckFlushInterval:  settings.AckFlushInterval(),
			DBFlushInterval:   settings.DBFlushInterval(),
			EventEmitInterval: int64(settings.EventEmitIntervalMS),
			AckBatchEnabled: wire.CapabilityEnabled(wire.CapAckBatch,
				wire.DefaultCapabilities(), hsResult.PeerCapabilities, hsResult.PeerVersion),
		},
		s.registry.Start(sess.ID), s.store, s.publisher, s.logger, s.metrics, hsResult.Codec.Name(), hsResult.PeerVersion)
	defer s.registry.Finish(sess.ID)

	if err := conn.Send(wire.TypeManifestAck, in.BuildManifestAck()); err != nil {
		return
	}

	startedAt := time.Now()
	runErr := in.Run(ctx)
	if s.metrics != nil {
		s.metrics.RecordSessionComplete(string(sess.Status), time.Since(startedAt).Seconds())
	}
	if runErr != nil && s.logger != nil {
		s.logger.Error(runErr, "incoming session ended with error")
	}
}
