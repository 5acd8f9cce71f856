package config

import "testing"

func TestDefaultsAreWithinRange(t *testing.T) {
	s := Defaults()
	s.Clamp()
	if s.MaxParallelFiles != 2 || s.MaxInflightChunks != 16 || s.ChunkSizeKiB != 1024 {
		t.Errorf("unexpected defaults: %+v", s)
	}
}

func TestClampEnforcesRanges(t *testing.T) {
	s := Settings{
		MaxParallelFiles:    100,
		MaxInflightChunks:   0,
		ChunkSizeKiB:        10,
		AutoCleanupDays:     9999,
		DBFlushIntervalMS:   1,
		EventEmitIntervalMS: 99999,
		AckBatchSize:        0,
		AckFlushIntervalMS:  1,
	}
	s.Clamp()

	if s.MaxParallelFiles != 8 {
		t.Errorf("MaxParallelFiles = %d, want 8", s.MaxParallelFiles)
	}
	if s.MaxInflightChunks != 1 {
		t.Errorf("MaxInflightChunks = %d, want 1", s.MaxInflightChunks)
	}
	if s.ChunkSizeKiB != 64 {
		t.Errorf("ChunkSizeKiB = %d, want 64", s.ChunkSizeKiB)
	}
	if s.AutoCleanupDays != 365 {
		t.Errorf("AutoCleanupDays = %d, want 365", s.AutoCleanupDays)
	}
	if s.DBFlushIntervalMS != 100 {
		t.Errorf("DBFlushIntervalMS = %d, want 100", s.DBFlushIntervalMS)
	}
	if s.EventEmitIntervalMS != 2000 {
		t.Errorf("EventEmitIntervalMS = %d, want 2000", s.EventEmitIntervalMS)
	}
	if s.AckBatchSize != 1 {
		t.Errorf("AckBatchSize = %d, want 1", s.AckBatchSize)
	}
	if s.AckFlushIntervalMS != 5 {
		t.Errorf("AckFlushIntervalMS = %d, want 5", s.AckFlushIntervalMS)
	}
}

func TestApplyPatchPartialUpdate(t *testing.T) {
	s := Defaults()
	newSize := 2048
	s2 := s.Apply(Patch{ChunkSizeKiB: &newSize})

	if s2.ChunkSizeKiB != 2048 {
		t.Errorf("ChunkSizeKiB = %d, want 2048", s2.ChunkSizeKiB)
	}
	if s2.MaxParallelFiles != s.MaxParallelFiles {
		t.Errorf("unrelated field changed: %d vs %d", s2.MaxParallelFiles, s.MaxParallelFiles)
	}
}
