// Package config models the engine's persisted settings: a flat struct of
// user-tunable knobs, each clamped to a documented valid range, with a
// Patch type for partial updates.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Settings holds every user-tunable knob of the transfer engine, each
// clamped to its documented range by Clamp.
type Settings struct {
	DefaultDownloadDir  string `json:"default_download_dir"`
	MaxParallelFiles    int    `json:"max_parallel_files"`
	MaxInflightChunks   int    `json:"max_inflight_chunks"`
	ChunkSizeKiB        int    `json:"chunk_size_kib"`
	AutoCleanupDays     int    `json:"auto_cleanup_days"`
	ResumeEnabled       bool   `json:"resume_enabled"`
	DiscoveryEnabled    bool   `json:"discovery_enabled"`
	PairingRequired     bool   `json:"pairing_required"`
	DBFlushIntervalMS   int    `json:"db_flush_interval_ms"`
	EventEmitIntervalMS int    `json:"event_emit_interval_ms"`
	AckBatchSize        int    `json:"ack_batch_size"`
	AckFlushIntervalMS  int    `json:"ack_flush_interval_ms"`
}

// Defaults returns the engine's built-in settings before any
// user overrides are applied.
func Defaults() Settings {
	return Settings{
		DefaultDownloadDir:  defaultDownloadDir(),
		MaxParallelFiles:    2,
		MaxInflightChunks:   16,
		ChunkSizeKiB:        1024,
		AutoCleanupDays:     30,
		ResumeEnabled:       true,
		DiscoveryEnabled:    true,
		PairingRequired:     true,
		DBFlushIntervalMS:   400,
		EventEmitIntervalMS: 250,
		AckBatchSize:        64,
		AckFlushIntervalMS:  20,
	}
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Downloads")
}

// Clamp forces every field into its documented valid range in place.
func (s *Settings) Clamp() {
	if s.DefaultDownloadDir == "" {
		s.DefaultDownloadDir = defaultDownloadDir()
	}
	s.MaxParallelFiles = clampInt(s.MaxParallelFiles, 1, 8)
	s.MaxInflightChunks = clampInt(s.MaxInflightChunks, 1, 64)
	s.ChunkSizeKiB = clampInt(s.ChunkSizeKiB, 64, 4096)
	s.AutoCleanupDays = clampInt(s.AutoCleanupDays, 1, 365)
	s.DBFlushIntervalMS = clampInt(s.DBFlushIntervalMS, 100, 5000)
	s.EventEmitIntervalMS = clampInt(s.EventEmitIntervalMS, 100, 2000)
	s.AckBatchSize = clampInt(s.AckBatchSize, 1, 512)
	s.AckFlushIntervalMS = clampInt(s.AckFlushIntervalMS, 5, 2000)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ChunkSizeBytes returns the configured chunk size in bytes.
func (s Settings) ChunkSizeBytes() int64 { return int64(s.ChunkSizeKiB) * 1024 }

// DBFlushInterval returns the flush cadence as a time.Duration.
func (s Settings) DBFlushInterval() time.Duration {
	return time.Duration(s.DBFlushIntervalMS) * time.Millisecond
}

// EventEmitInterval returns the snapshot rate-limit cadence.
func (s Settings) EventEmitInterval() time.Duration {
	return time.Duration(s.EventEmitIntervalMS) * time.Millisecond
}

// AckFlushInterval returns the ack-batch flush cadence.
func (s Settings) AckFlushInterval() time.Duration {
	return time.Duration(s.AckFlushIntervalMS) * time.Millisecond
}

// Patch carries a partial settings update; nil fields are left unchanged.
type Patch struct {
	DefaultDownloadDir  *string `json:"default_download_dir,omitempty"`
	MaxParallelFiles    *int    `json:"max_parallel_files,omitempty"`
	MaxInflightChunks   *int    `json:"max_inflight_chunks,omitempty"`
	ChunkSizeKiB        *int    `json:"chunk_size_kib,omitempty"`
	AutoCleanupDays     *int    `json:"auto_cleanup_days,omitempty"`
	ResumeEnabled       *bool   `json:"resume_enabled,omitempty"`
	DiscoveryEnabled    *bool   `json:"discovery_enabled,omitempty"`
	PairingRequired     *bool   `json:"pairing_required,omitempty"`
	DBFlushIntervalMS   *int    `json:"db_flush_interval_ms,omitempty"`
	EventEmitIntervalMS *int    `json:"event_emit_interval_ms,omitempty"`
	AckBatchSize        *int    `json:"ack_batch_size,omitempty"`
	AckFlushIntervalMS  *int    `json:"ack_flush_interval_ms,omitempty"`
}

// Apply merges non-nil patch fields into s and clamps the result.
func (s Settings) Apply(p Patch) Settings {
	if p.DefaultDownloadDir != nil {
		s.DefaultDownloadDir = *p.DefaultDownloadDir
	}
	if p.MaxParallelFiles != nil {
		s.MaxParallelFiles = *p.MaxParallelFiles
	}
	if p.MaxInflightChunks != nil {
		s.MaxInflightChunks = *p.MaxInflightChunks
	}
	if p.ChunkSizeKiB != nil {
		s.ChunkSizeKiB = *p.ChunkSizeKiB
	}
	if p.AutoCleanupDays != nil {
		s.AutoCleanupDays = *p.AutoCleanupDays
	}
	if p.ResumeEnabled != nil {
		s.ResumeEnabled = *p.ResumeEnabled
	}
	if p.DiscoveryEnabled != nil {
		s.DiscoveryEnabled = *p.DiscoveryEnabled
	}
	if p.PairingRequired != nil {
		s.PairingRequired = *p.PairingRequired
	}
	if p.DBFlushIntervalMS != nil {
		s.DBFlushIntervalMS = *p.DBFlushIntervalMS
	}
	if p.EventEmitIntervalMS != nil {
		s.EventEmitIntervalMS = *p.EventEmitIntervalMS
	}
	if p.AckBatchSize != nil {
		s.AckBatchSize = *p.AckBatchSize
	}
	if p.AckFlushIntervalMS != nil {
		s.AckFlushIntervalMS = *p.AckFlushIntervalMS
	}
	s.Clamp()
	return s
}
