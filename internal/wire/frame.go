// Package wire implements the transfer engine's frame codec and wire
// protocol: a 4-byte big-endian length-prefixed transport
// envelope, an AEAD layer once a session key exists, and two payload
// codecs (textual/JSON for legacy peers, compact binary for capable ones)
// negotiated once per connection at AuthOk.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the transport envelope's size ceiling.
const MaxFrameSize = 64 << 20 // 64 MiB

// Type tags one byte identifying the frame variant in the binary codec,
// and the "type" field of the JSON codec.
type Type byte

const (
	TypeHello Type = iota + 1
	TypeAuthChallenge
	TypeAuthResponse
	TypeAuthOk
	TypeErrorFrame
	TypeManifest
	TypeManifestAck
	TypeChunkBinary
	TypeAck
	TypeAckBatch
	TypeFileDone
	TypeSessionDone
	TypePing
)

var typeNames = map[Type]string{
	TypeHello: "hello", TypeAuthChallenge: "auth_challenge", TypeAuthResponse: "auth_response",
	TypeAuthOk: "auth_ok", TypeErrorFrame: "error", TypeManifest: "manifest",
	TypeManifestAck: "manifest_ack", TypeChunkBinary: "chunk_binary", TypeAck: "ack",
	TypeAckBatch: "ack_batch", TypeFileDone: "file_done", TypeSessionDone: "session_done",
	TypePing: "ping",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", t)
}

// Errors raised by the codec.
var (
	ErrFrameTooLarge    = errors.New("transfer_frame_too_large")
	ErrFrameAuthFailed  = errors.New("transfer_frame_auth_failed")
	ErrUnknownFrameType = errors.New("transfer_protocol_unknown_frame")
)

// WriteEnvelope writes the 4-byte big-endian length prefix followed by payload.
func WriteEnvelope(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadEnvelope reads and returns one length-prefixed payload.
func ReadEnvelope(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}
