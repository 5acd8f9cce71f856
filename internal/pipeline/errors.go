package pipeline

import "errors"

// Sentinel errors carrying the pipeline's wire-visible error codes.
var (
	ErrChunkRetryExhausted = errors.New("transfer_chunk_retry_exhausted")
	ErrChunkAckTimeout     = errors.New("transfer_chunk_ack_timeout")
	ErrChunkHashMismatch   = errors.New("transfer_chunk_hash_mismatch")
	ErrFileHashMismatch    = errors.New("transfer_file_hash_mismatch")
	ErrRemoteFailed        = errors.New("remote_failed")
	ErrCanceled            = errors.New("canceled")
)
