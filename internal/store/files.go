package store

import (
	"database/sql"
	"fmt"

	"github.com/meshdrop/transfer/internal/model"
)

// SaveFilesBatch upserts a batch of dirty files inside a single
// transaction, coalescing nullable fields so a partial update
// (e.g. a progress-only write) never overwrites a known blake3/mime/target
// value with NULL.
func (s *Store) SaveFilesBatch(files []*model.File) error {
	if len(files) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO transfer_files (
			id, session_id, relative_path, source_path, target_path, size_bytes,
			transferred_bytes, chunk_size, chunk_count, completed_bitmap, blake3,
			mime_type, preview_kind, preview_data, status, is_folder_archive, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			transferred_bytes = excluded.transferred_bytes,
			completed_bitmap = COALESCE(excluded.completed_bitmap, transfer_files.completed_bitmap),
			target_path = COALESCE(excluded.target_path, transfer_files.target_path),
			blake3 = COALESCE(excluded.blake3, transfer_files.blake3),
			mime_type = COALESCE(excluded.mime_type, transfer_files.mime_type),
			preview_kind = COALESCE(excluded.preview_kind, transfer_files.preview_kind),
			preview_data = COALESCE(excluded.preview_data, transfer_files.preview_data),
			status = excluded.status,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare file upsert: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		folderArchive := 0
		if f.IsFolderArchive {
			folderArchive = 1
		}
		if _, err := stmt.Exec(f.ID, f.SessionID, f.RelativePath, nullableString(f.SourcePath),
			nullableString(f.TargetPath), f.SizeBytes, f.TransferredBytes, f.ChunkSize, f.ChunkCount,
			nullableBytes(f.CompletedBitmap), nullableString(f.Blake3), nullableString(f.MimeType),
			nullableString(f.PreviewKind), nullableBytes(f.PreviewData), string(f.Status), folderArchive, f.UpdatedAtMS); err != nil {
			return fmt.Errorf("upsert file %s: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

// LoadFilesForSession loads every File row belonging to a session, in
// manifest order (by rowid, i.e. insertion order).
func (s *Store) LoadFilesForSession(sessionID string) ([]*model.File, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, relative_path, source_path, target_path, size_bytes,
		       transferred_bytes, chunk_size, chunk_count, completed_bitmap, blake3,
		       mime_type, preview_kind, preview_data, status, is_folder_archive, updated_at
		FROM transfer_files WHERE session_id = ? ORDER BY rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}
	defer rows.Close()

	var out []*model.File
	for rows.Next() {
		var f model.File
		var sourcePath, targetPath, blake3Hex, mimeType, previewKind sql.NullString
		var status string
		var folderArchive int
		var bitmap, previewData []byte
		if err := rows.Scan(&f.ID, &f.SessionID, &f.RelativePath, &sourcePath, &targetPath,
			&f.SizeBytes, &f.TransferredBytes, &f.ChunkSize, &f.ChunkCount, &bitmap, &blake3Hex,
			&mimeType, &previewKind, &previewData, &status, &folderArchive, &f.UpdatedAtMS); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		f.SourcePath = sourcePath.String
		f.TargetPath = targetPath.String
		f.Blake3 = blake3Hex.String
		f.MimeType = mimeType.String
		f.PreviewKind = previewKind.String
		f.PreviewData = previewData
		f.CompletedBitmap = bitmap
		f.Status = model.FileStatus(status)
		f.IsFolderArchive = folderArchive != 0
		out = append(out, &f)
	}
	return out, rows.Err()
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
