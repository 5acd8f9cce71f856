package pipeline

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshdrop/transfer/internal/bitmap"
	"github.com/meshdrop/transfer/internal/chunkio"
	"github.com/meshdrop/transfer/internal/model"
	"github.com/meshdrop/transfer/internal/observability"
	"github.com/meshdrop/transfer/internal/session"
	"github.com/meshdrop/transfer/internal/wire"
)

type memStore struct {
	sessions map[string]*model.Session
	files    map[string]*model.File
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]*model.Session{}, files: map[string]*model.File{}}
}

func (m *memStore) SaveSession(sess *model.Session) error {
	m.sessions[sess.ID] = sess
	return nil
}

func (m *memStore) SaveFilesBatch(files []*model.File) error {
	for _, f := range files {
		m.files[f.ID] = f
	}
	return nil
}

func writeTempFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func buildFileRuntimes(t *testing.T, srcPath string, chunkSize int64) (*model.File, *FileRuntime) {
	t.Helper()
	info, err := os.Stat(srcPath)
	if err != nil {
		t.Fatal(err)
	}
	size := info.Size()
	chunkCount := model.ChunkCountFor(size, chunkSize)
	sum, err := chunkio.HashFile(srcPath)
	if err != nil {
		t.Fatal(err)
	}
	f := &model.File{
		ID:         "file-1",
		SourcePath: srcPath,
		SizeBytes:  size,
		ChunkSize:  chunkSize,
		ChunkCount: chunkCount,
		Blake3:     sum,
		Status:     model.FileRunning,
	}
	reader, err := chunkio.OpenReader(srcPath)
	if err != nil {
		t.Fatal(err)
	}
	fr := &FileRuntime{Index: 0, File: f, Bitmap: bitmap.Empty(chunkCount), Reader: reader}
	return f, fr
}

// TestHappyPathTransfersAllChunks drives an Outgoing/Incoming pair over a
// loopback TCP connection and asserts the file lands byte-for-byte and both
// sessions reach success.
func TestHappyPathTransfersAllChunks(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := writeTempFile(t, srcDir, "payload.bin", 5000)

	senderFile, senderFR := buildFileRuntimes(t, srcPath, 1024)
	targetPath := filepath.Join(dstDir, "payload.bin")
	receiverFile := &model.File{
		ID: senderFile.ID, SizeBytes: senderFile.SizeBytes, ChunkSize: senderFile.ChunkSize,
		ChunkCount: senderFile.ChunkCount, Blake3: senderFile.Blake3, TargetPath: targetPath,
		Status: model.FileRunning,
	}
	receiverFR, err := NewFileRuntimeForReceive(0, receiverFile, chunkio.PartPath(targetPath, "s1"))
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	acceptCh := make(chan net.Conn, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErrCh <- err
			return
		}
		acceptCh <- c
	}()
	clientNC, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	var serverNC net.Conn
	select {
	case serverNC = <-acceptCh:
	case err := <-acceptErrCh:
		t.Fatal(err)
	case <-time.After(time.Second):
		t.Fatal("timed out accepting loopback connection")
	}
	senderConn := wire.NewConn(clientNC)
	receiverConn := wire.NewConn(serverNC)

	senderSess := &model.Session{ID: "s1", Direction: model.DirectionSend, TotalBytes: senderFile.SizeBytes, Status: model.StatusRunning}
	receiverSess := &model.Session{ID: "s1", Direction: model.DirectionReceive, TotalBytes: senderFile.SizeBytes, Status: model.StatusRunning}

	senderStore := newMemStore()
	receiverStore := newMemStore()
	senderCtl := session.NewControl("s1")
	receiverCtl := session.NewControl("s1")

	logger := observability.NewLogger("transfer-test", "test", io.Discard)
	out := NewOutgoing(senderConn, senderSess, []*FileRuntime{senderFR}, 8, 50*time.Millisecond, 1000, senderCtl, senderStore, nil, logger, nil, "binary", 1)
	in := NewIncoming(receiverConn, receiverSess, []*FileRuntime{receiverFR}, IncomingConfig{AckBatchSize: 4, AckFlushInterval: 20 * time.Millisecond, DBFlushInterval: 50 * time.Millisecond, EventEmitInterval: 1000}, receiverCtl, receiverStore, nil, logger, nil, "binary", 1)

	errCh := make(chan error, 2)
	go func() { errCh <- in.Run(context.Background()) }()
	go func() { errCh <- out.Run(context.Background()) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("pipeline returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for transfer to finish")
		}
	}

	if receiverFile.Status != model.FileSuccess {
		t.Fatalf("expected receiver file success, got %v", receiverFile.Status)
	}
	got, err := os.ReadFile(receiverFile.TargetPath)
	if err != nil {
		t.Fatal(err)
	}
	want, err := os.ReadFile(srcPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Fatal("received file content does not match source")
	}
}

// TestHandleChunkHashMismatchSendsFailureAck verifies a chunk whose BLAKE3
// hash doesn't match its declared digest is acked as a failure rather than
// written (transfer_chunk_hash_mismatch).
func TestHandleChunkHashMismatchSendsFailureAck(t *testing.T) {
	dstDir := t.TempDir()
	targetPath := filepath.Join(dstDir, "out.bin")
	f := &model.File{ID: "file-1", SizeBytes: 10, ChunkSize: 10, ChunkCount: 1, TargetPath: targetPath}
	fr, err := NewFileRuntimeForReceive(0, f, chunkio.PartPath(targetPath, "s1"))
	if err != nil {
		t.Fatal(err)
	}
	defer fr.Writer.Close()

	clientNC, serverNC := net.Pipe()
	defer clientNC.Close()
	defer serverNC.Close()
	conn := wire.NewConn(serverNC)

	recvCh := make(chan wire.Ack, 1)
	go func() {
		peerConn := wire.NewConn(clientNC)
		_, body, err := peerConn.Recv()
		if err != nil {
			return
		}
		if ack, ok := body.(*wire.Ack); ok {
			recvCh <- *ack
		}
	}()

	sess := &model.Session{ID: "s1", TotalBytes: 10}
	logger := observability.NewLogger("transfer-test", "test", io.Discard)
	in := NewIncoming(conn, sess, []*FileRuntime{fr}, IncomingConfig{AckBatchSize: 1, AckFlushInterval: time.Millisecond, DBFlushInterval: time.Second, EventEmitInterval: 1000}, session.NewControl("s1"), newMemStore(), nil, logger, nil, "binary", 1)

	if err := in.handleChunk(&wire.ChunkBinary{SessionID: "s1", FileID: "file-1", ChunkIndex: 0, TotalChunks: 1, HashHex: "deadbeef", Data: []byte("0123456789")}); err != nil {
		t.Fatal(err)
	}

	select {
	case ack := <-recvCh:
		if ack.Item.OK {
			t.Fatal("expected failure ack for mismatched hash")
		}
		if ack.Item.Error != ErrChunkHashMismatch.Error() {
			t.Fatalf("got error %q", ack.Item.Error)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failure ack")
	}

	if fr.Bitmap.IsDone(0) {
		t.Fatal("expected chunk not marked done after hash mismatch")
	}
}

func TestBuildFairQueueInterleavesFiles(t *testing.T) {
	q := BuildFairQueue([][]int64{
		{0, 1, 2, 3},
		{0},
		{5, 6},
	})
	if q.Len() != 7 {
		t.Fatalf("Len = %d, want 7", q.Len())
	}

	// Any prefix of length >= number of files must touch every file that
	// still has chunks remaining at that point.
	first3 := map[int]bool{}
	for i := 0; i < 3; i++ {
		k, ok := q.Pop()
		if !ok {
			t.Fatal("queue exhausted early")
		}
		first3[k.FileIndex] = true
	}
	if len(first3) != 3 {
		t.Fatalf("first round did not interleave all files: %v", first3)
	}
}

func TestFairQueuePushFrontRetransmitsFirst(t *testing.T) {
	q := BuildFairQueue([][]int64{{0, 1}})
	k, _ := q.Pop()
	q.PushFront(k)
	k2, _ := q.Pop()
	if k2 != k {
		t.Fatalf("expected pushed-front chunk to pop first, got %+v", k2)
	}
}

// TestResumeSendsOnlyMissingChunks pre-seeds the receiver with the first
// two of four chunks on disk and in its bitmap, reconnects, and verifies
// the finished file matches the source byte for byte.
func TestResumeSendsOnlyMissingChunks(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := writeTempFile(t, srcDir, "payload.bin", 4096)

	const chunkSize = 1024
	senderFile, senderFR := buildFileRuntimes(t, srcPath, chunkSize)

	targetPath := filepath.Join(dstDir, "payload.bin")
	partPath := chunkio.PartPath(targetPath, "s2")

	// Seed chunks 0 and 1 on disk and in a serialized bitmap, the way a
	// prior partial run's checkpoint would have left them.
	seed := bitmap.Empty(senderFile.ChunkCount)
	_ = seed.MarkDone(0)
	_ = seed.MarkDone(1)
	src, err := os.ReadFile(srcPath)
	if err != nil {
		t.Fatal(err)
	}
	w, err := chunkio.OpenWriter(partPath, senderFile.SizeBytes)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteChunk(0, chunkSize, src[0:chunkSize]); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteChunk(1, chunkSize, src[chunkSize:2*chunkSize]); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	w.Close()

	receiverFile := &model.File{
		ID: senderFile.ID, SizeBytes: senderFile.SizeBytes, ChunkSize: chunkSize,
		ChunkCount: senderFile.ChunkCount, Blake3: senderFile.Blake3, TargetPath: targetPath,
		CompletedBitmap: seed.Serialize(), Status: model.FileRunning,
	}
	receiverFR, err := NewFileRuntimeForReceive(0, receiverFile, partPath)
	if err != nil {
		t.Fatal(err)
	}

	missing := receiverFR.Bitmap.Missing()
	if len(missing) != 2 || missing[0] != 2 || missing[1] != 3 {
		t.Fatalf("expected missing [2 3], got %v", missing)
	}

	// The sender's bitmap is rebuilt from the receiver's missing list, as
	// the manifest_ack bootstrap does.
	for k := int64(0); k < senderFile.ChunkCount; k++ {
		if k != 2 && k != 3 {
			_ = senderFR.Bitmap.MarkDone(k)
		}
	}

	clientNC, serverNC := loopbackPair(t)
	senderConn := wire.NewConn(clientNC)
	receiverConn := wire.NewConn(serverNC)

	senderSess := &model.Session{ID: "s2", Direction: model.DirectionSend, TotalBytes: senderFile.SizeBytes, Status: model.StatusRunning}
	receiverSess := &model.Session{ID: "s2", Direction: model.DirectionReceive, TotalBytes: senderFile.SizeBytes, Status: model.StatusRunning}

	logger := observability.NewLogger("transfer-test", "test", io.Discard)
	out := NewOutgoing(senderConn, senderSess, []*FileRuntime{senderFR}, 8, 50*time.Millisecond, 1000, session.NewControl("s2"), newMemStore(), nil, logger, nil, "binary", 1)
	in := NewIncoming(receiverConn, receiverSess, []*FileRuntime{receiverFR}, IncomingConfig{AckBatchSize: 4, AckFlushInterval: 20 * time.Millisecond, DBFlushInterval: 50 * time.Millisecond, EventEmitInterval: 1000, AckBatchEnabled: true}, session.NewControl("s2"), newMemStore(), nil, logger, nil, "binary", 1)

	errCh := make(chan error, 2)
	go func() { errCh <- in.Run(context.Background()) }()
	go func() { errCh <- out.Run(context.Background()) }()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("pipeline returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for resume transfer")
		}
	}

	got, err := os.ReadFile(receiverFile.TargetPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(src) {
		t.Fatal("resumed file content does not match source")
	}
}

// TestCancelMidFlightFinalizesCanceled cancels a paused sender and checks
// it lands on canceled with a final checkpoint instead of success.
func TestCancelMidFlightFinalizesCanceled(t *testing.T) {
	srcDir := t.TempDir()
	srcPath := writeTempFile(t, srcDir, "payload.bin", 8192)
	_, senderFR := buildFileRuntimes(t, srcPath, 1024)

	clientNC, serverNC := loopbackPair(t)
	defer serverNC.Close()
	senderConn := wire.NewConn(clientNC)

	sess := &model.Session{ID: "s3", Direction: model.DirectionSend, TotalBytes: 8192, Status: model.StatusRunning}
	st := newMemStore()
	ctl := session.NewControl("s3")
	ctl.Pause()
	ctl.Cancel()

	logger := observability.NewLogger("transfer-test", "test", io.Discard)
	out := NewOutgoing(senderConn, sess, []*FileRuntime{senderFR}, 4, 50*time.Millisecond, 1000, ctl, st, nil, logger, nil, "binary", 1)

	// Drain the receiver side so the canceled sender's SessionDone send
	// doesn't block.
	go func() {
		rc := wire.NewConn(serverNC)
		for {
			if _, _, err := rc.Recv(); err != nil {
				return
			}
		}
	}()

	if err := out.Run(context.Background()); err != ErrCanceled {
		t.Fatalf("got %v, want ErrCanceled", err)
	}
	if sess.Status != model.StatusCanceled {
		t.Fatalf("status = %v, want canceled", sess.Status)
	}
	if _, ok := st.sessions["s3"]; !ok {
		t.Fatal("expected a final checkpoint for the canceled session")
	}
}

func loopbackPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		acceptCh <- c
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	select {
	case server = <-acceptCh:
	case <-time.After(time.Second):
		t.Fatal("timed out accepting loopback connection")
	}
	return client, server
}
