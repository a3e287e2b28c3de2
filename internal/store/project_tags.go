package store

import (
	"database/sql"

	"muckrake/internal/errdefs"
	"muckrake/internal/model"
)

// InsertTag tags a file, snapshotting the content hash at tagging time.
// Re-tagging with the same tag refreshes the snapshot.
func (s *ProjectStore) InsertTag(fileID int64, tag, fileHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withTx(s.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO file_tags (file_id, tag, file_hash) VALUES (?, ?, ?)
			 ON CONFLICT(file_id, tag) DO UPDATE SET file_hash = excluded.file_hash`,
			fileID, tag, nullString(fileHash),
		)
		return errdefs.Store(err)
	})
}

// RemoveTag removes a tag from a file. Removing an absent tag is a no-op.
func (s *ProjectStore) RemoveTag(fileID int64, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withTx(s.db, func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM file_tags WHERE file_id = ? AND tag = ?", fileID, tag)
		return errdefs.Store(err)
	})
}

// GetTags returns a file's tag names, sorted.
func (s *ProjectStore) GetTags(fileID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT tag FROM file_tags WHERE file_id = ? ORDER BY tag", fileID)
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, errdefs.Store(err)
		}
		tags = append(tags, tag)
	}
	return tags, errdefs.Store(rows.Err())
}

// GetFileTags returns a file's tags with their hash snapshots.
func (s *ProjectStore) GetFileTags(fileID int64) ([]model.FileTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT file_id, tag, file_hash FROM file_tags WHERE file_id = ? ORDER BY tag", fileID)
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()
	return collectFileTags(rows)
}

// ListAllTags returns every (file, tag) pair ordered by tag.
func (s *ProjectStore) ListAllTags() ([]model.FileTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT file_id, tag, file_hash FROM file_tags ORDER BY tag, file_id")
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()
	return collectFileTags(rows)
}

func collectFileTags(rows *sql.Rows) ([]model.FileTag, error) {
	var tags []model.FileTag
	for rows.Next() {
		var ft model.FileTag
		var hash sql.NullString
		if err := rows.Scan(&ft.FileID, &ft.Tag, &hash); err != nil {
			return nil, errdefs.Store(err)
		}
		ft.FileHash = fromNull(hash)
		tags = append(tags, ft)
	}
	return tags, errdefs.Store(rows.Err())
}

// GetTagHash returns the hash snapshot recorded when a tag was applied.
func (s *ProjectStore) GetTagHash(fileID int64, tag string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hash sql.NullString
	err := s.db.QueryRow(
		"SELECT file_hash FROM file_tags WHERE file_id = ? AND tag = ?", fileID, tag,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errdefs.Store(err)
	}
	return fromNull(hash), true, nil
}

// TagCount returns the number of distinct tag names in use.
func (s *ProjectStore) TagCount() (int64, error) {
	return s.count("SELECT COUNT(DISTINCT tag) FROM file_tags")
}
