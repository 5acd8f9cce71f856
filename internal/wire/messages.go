package wire

// Message variant payloads. JSON tags are shared by both
// codecs: the binary codec tags fields positionally but reuses these Go
// structs as the in-memory representation.

type Hello struct {
	DeviceID     string   `json:"device_id"`
	DeviceName   string   `json:"device_name"`
	ClientNonce  string   `json:"client_nonce"` // 16-byte hex
	Version      int      `json:"version"`
	Capabilities []string `json:"capabilities"`
}

type AuthChallenge struct {
	ServerNonce string `json:"server_nonce"` // 16-byte hex
	ExpiresAtMS int64  `json:"expires_at"`
}

type AuthResponse struct {
	PairCode string `json:"pair_code"`
	Proof    string `json:"proof"` // hex
}

type AuthOk struct {
	PeerDeviceID string   `json:"peer_device_id"`
	PeerName     string   `json:"peer_name"`
	Version      int      `json:"version"`
	Capabilities []string `json:"capabilities"`
}

type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ManifestFile struct {
	FileID          string `json:"file_id"`
	RelativePath    string `json:"relative_path"`
	SizeBytes       int64  `json:"size_bytes"`
	ChunkSize       int64  `json:"chunk_size"`
	ChunkCount      int64  `json:"chunk_count"`
	Blake3Hex       string `json:"blake3"`
	MimeType        string `json:"mime_type,omitempty"`
	IsFolderArchive bool   `json:"is_folder_archive,omitempty"`
}

type Manifest struct {
	SessionID string         `json:"session_id"`
	Direction string         `json:"direction"`
	SaveDir   string         `json:"save_dir"`
	Files     []ManifestFile `json:"files"`
}

type ManifestAck struct {
	SessionID           string            `json:"session_id"`
	MissingChunksByFile map[string]string `json:"missing_chunks_by_file"` // file_id -> compressed range ("1-5,7,9-12")
}

type ChunkBinary struct {
	SessionID   string `json:"session_id"`
	FileID      string `json:"file_id"`
	ChunkIndex  int64  `json:"chunk_index"`
	TotalChunks int64  `json:"total_chunks"`
	HashHex     string `json:"hash"`
	Data        []byte `json:"data"`
}

type AckItem struct {
	FileID     string `json:"file_id"`
	ChunkIndex int64  `json:"chunk_index"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

type Ack struct {
	SessionID string  `json:"session_id"`
	Item      AckItem `json:"item"`
}

type AckBatch struct {
	SessionID string    `json:"session_id"`
	Items     []AckItem `json:"items"`
}

type FileDone struct {
	SessionID string `json:"session_id"`
	FileID    string `json:"file_id"`
	Blake3Hex string `json:"blake3"`
}

type SessionDone struct {
	SessionID string `json:"session_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

type Ping struct {
	TimestampMS int64 `json:"timestamp"`
}

// Capability strings negotiated at handshake time.
const (
	CapBinaryCodec = "binary_codec"
	CapAckBatch    = "ack_batch"
	CapPipelining  = "pipelining"
)

// MinVersionFor gates each optional capability on the minimum protocol
// version that introduced it. All three ship in version 1 for this
// implementation, but the table exists so future versions can raise a
// capability's floor without an API change.
var MinVersionFor = map[string]int{
	CapBinaryCodec: 1,
	CapAckBatch:    1,
	CapPipelining:  1,
}

// CurrentVersion is the protocol version this build advertises.
const CurrentVersion = 1
