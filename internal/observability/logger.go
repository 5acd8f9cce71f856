package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{logger: logger}
}

// WithSession adds session_id context to logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{logger: l.logger.With().Str("session_id", sessionID).Logger()}
}

// WithPeer adds peer_id context to logger.
func (l *Logger) WithPeer(peerID string) *Logger {
	return &Logger{logger: l.logger.With().Str("peer_id", peerID).Logger()}
}

// WithFile adds file context to logger.
func (l *Logger) WithFile(fileID string, fileSize int64) *Logger {
	return &Logger{logger: l.logger.With().Str("file_id", fileID).Int64("file_size", fileSize).Logger()}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) { l.logger.Debug().Msg(msg) }

// Info logs an info message.
func (l *Logger) Info(msg string) { l.logger.Info().Msg(msg) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string) { l.logger.Warn().Msg(msg) }

// Error logs an error message.
func (l *Logger) Error(err error, msg string) { l.logger.Error().Err(err).Msg(msg) }

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) { l.logger.Fatal().Err(err).Msg(msg) }

// SessionStarted logs a session's pipeline start.
func (l *Logger) SessionStarted(sessionID, direction string, totalBytes int64, totalFiles int) {
	l.logger.Info().
		Str("session_id", sessionID).
		Str("direction", direction).
		Int64("total_bytes", totalBytes).
		Int("total_files", totalFiles).
		Msg("transfer session started")
}

// ChunkSent logs a chunk frame write.
func (l *Logger) ChunkSent(sessionID, fileID string, chunkIndex int64) {
	l.logger.Debug().
		Str("session_id", sessionID).
		Str("file_id", fileID).
		Int64("chunk_index", chunkIndex).
		Msg("chunk sent")
}

// ChunkAckFailed logs a per-chunk verification failure reported via ack.
func (l *Logger) ChunkAckFailed(sessionID, fileID string, chunkIndex int64, reason string, retryCount int) {
	l.logger.Warn().
		Str("session_id", sessionID).
		Str("file_id", fileID).
		Int64("chunk_index", chunkIndex).
		Str("reason", reason).
		Int("retry_count", retryCount).
		Msg("chunk ack reported failure")
}

// SessionProgress logs a rate-limited progress snapshot.
func (l *Logger) SessionProgress(sessionID string, transferred, total int64, speedBPS float64) {
	l.logger.Info().
		Str("session_id", sessionID).
		Int64("transferred_bytes", transferred).
		Int64("total_bytes", total).
		Float64("speed_bps", speedBPS).
		Msg("transfer progress")
}

// SessionTerminal logs a session reaching a terminal status.
func (l *Logger) SessionTerminal(sessionID, status, errorCode string, duration time.Duration) {
	l.logger.Info().
		Str("session_id", sessionID).
		Str("status", status).
		Str("error_code", errorCode).
		Float64("duration_seconds", duration.Seconds()).
		Msg("transfer session terminal")
}

// HandshakeFailed logs an authentication failure during pairing.
func (l *Logger) HandshakeFailed(remoteAddr, reason string) {
	l.logger.Warn().
		Str("remote_addr", remoteAddr).
		Str("reason", reason).
		Msg("handshake failed")
}

// PeerDiscovered logs a new or refreshed LAN peer sighting.
func (l *Logger) PeerDiscovered(deviceID, displayName, address string) {
	l.logger.Debug().
		Str("device_id", deviceID).
		Str("display_name", displayName).
		Str("address", address).
		Msg("peer discovered")
}

// ConnectionEstablished logs a TCP connection accept/dial.
func (l *Logger) ConnectionEstablished(remoteAddr string) {
	l.logger.Info().Str("remote_addr", remoteAddr).Msg("tcp connection established")
}

// ConnectionFailed logs a TCP connection failure.
func (l *Logger) ConnectionFailed(remoteAddr string, err error) {
	l.logger.Error().Str("remote_addr", remoteAddr).Err(err).Msg("tcp connection failed")
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
