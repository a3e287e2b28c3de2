package store

import (
	"database/sql"
	"fmt"
	"strings"

	"muckrake/internal/errdefs"
	"muckrake/internal/model"
)

const fileColumns = "id, name, path, sha256, fingerprint, mime_type, size, ingested_at, provenance, immutable"

func scanFile(row interface{ Scan(...any) error }) (model.TrackedFile, error) {
	var f model.TrackedFile
	var sha, fingerprint, mime, provenance sql.NullString
	var size sql.NullInt64
	var ingestedAt string
	var immutable int

	err := row.Scan(&f.ID, &f.Name, &f.Path, &sha, &fingerprint, &mime, &size,
		&ingestedAt, &provenance, &immutable)
	if err != nil {
		return f, err
	}
	f.SHA256 = fromNull(sha)
	f.Fingerprint = fromNull(fingerprint)
	f.MimeType = fromNull(mime)
	f.Size = size.Int64
	f.IngestedAt = parseTime(ingestedAt)
	f.Provenance = fromNull(provenance)
	f.Immutable = immutable != 0
	return f, nil
}

// InsertFile records a newly tracked file and returns its id.
// A duplicate path surfaces as AlreadyExists (invariant: path uniqueness).
func (s *ProjectStore) InsertFile(f *model.TrackedFile) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := withTx(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO files (name, path, sha256, fingerprint, mime_type, size, ingested_at, provenance, immutable)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.Name, f.Path, nullString(f.SHA256), nullString(f.Fingerprint),
			nullString(f.MimeType), f.Size, formatTime(f.IngestedAt),
			nullString(f.Provenance), boolToInt(f.Immutable),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errdefs.AlreadyExists("file", f.Path)
			}
			return errdefs.Store(err)
		}
		id, err = res.LastInsertId()
		return errdefs.Store(err)
	})
	return id, err
}

// GetFileByPath returns the file at an exact relative path, or nil.
func (s *ProjectStore) GetFileByPath(path string) (*model.TrackedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getFileWhere("path = ?", path)
}

// GetFileByName returns a file by bare filename via the filename index,
// or nil. Multiple files with the same name surface as AmbiguousMatch.
func (s *ProjectStore) GetFileByName(name string) (*model.TrackedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT "+fileColumns+" FROM files WHERE name = ? ORDER BY path", name)
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()

	var files []model.TrackedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, errdefs.Store(err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Store(err)
	}

	switch len(files) {
	case 0:
		return nil, nil
	case 1:
		return &files[0], nil
	default:
		return nil, errdefs.AmbiguousMatch(name, len(files))
	}
}

func (s *ProjectStore) getFileWhere(where string, args ...any) (*model.TrackedFile, error) {
	row := s.db.QueryRow("SELECT "+fileColumns+" FROM files WHERE "+where, args...)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Store(err)
	}
	return &f, nil
}

// GetFileByID returns a file by surrogate id, or NotFound.
func (s *ProjectStore) GetFileByID(id int64) (*model.TrackedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := s.getFileWhere("id = ?", id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errdefs.NotFound("file", fmt.Sprintf("#%d", id))
	}
	return f, nil
}

// ListFiles returns tracked files ordered by path, optionally limited to a
// path prefix ("evidence/").
func (s *ProjectStore) ListFiles(pathPrefix string) ([]model.TrackedFile, error) {
	return s.ListFilesFiltered(pathPrefix, nil)
}

// ListFilesFiltered applies the AND-of-OR tag group semantics on top of an
// optional path prefix: tagGroups [[a,b],[c]] matches files tagged
// (a OR b) AND c.
func (s *ProjectStore) ListFilesFiltered(pathPrefix string, tagGroups [][]string) ([]model.TrackedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sb strings.Builder
	var args []any
	sb.WriteString("SELECT " + fileColumns + " FROM files WHERE 1=1")

	if pathPrefix != "" {
		sb.WriteString(" AND path LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(pathPrefix)+"%")
	}

	for _, group := range tagGroups {
		if len(group) == 0 {
			continue
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(group)), ", ")
		sb.WriteString(" AND id IN (SELECT file_id FROM file_tags WHERE tag IN (" + placeholders + "))")
		for _, tag := range group {
			args = append(args, tag)
		}
	}
	sb.WriteString(" ORDER BY path")

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()

	var files []model.TrackedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, errdefs.Store(err)
		}
		files = append(files, f)
	}
	return files, errdefs.Store(rows.Err())
}

// UpdateFilePath moves a tracked file to a new relative path.
func (s *ProjectStore) UpdateFilePath(fileID int64, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withTx(s.db, func(tx *sql.Tx) error {
		_, err := tx.Exec("UPDATE files SET path = ?, name = ? WHERE id = ?",
			newPath, baseName(newPath), fileID)
		if isUniqueViolation(err) {
			return errdefs.AlreadyExists("file", newPath)
		}
		return errdefs.Store(err)
	})
}

// UpdateFileHash re-records the content hash after an authorized change.
func (s *ProjectStore) UpdateFileHash(fileID int64, sha256 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withTx(s.db, func(tx *sql.Tx) error {
		_, err := tx.Exec("UPDATE files SET sha256 = ? WHERE id = ?", sha256, fileID)
		return errdefs.Store(err)
	})
}

// UpdateFileImmutable records whether the OS immutable flag is set.
func (s *ProjectStore) UpdateFileImmutable(fileID int64, immutable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withTx(s.db, func(tx *sql.Tx) error {
		_, err := tx.Exec("UPDATE files SET immutable = ? WHERE id = ?",
			boolToInt(immutable), fileID)
		return errdefs.Store(err)
	})
}

// RemoveFile deletes a tracked file. Tags and signs cascade; audit entries
// keep their file_id and must not block the delete.
func (s *ProjectStore) RemoveFile(fileID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withTx(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM files WHERE id = ?", fileID)
		if err != nil {
			return errdefs.Store(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errdefs.Store(err)
		}
		if n == 0 {
			return errdefs.NotFound("file", fmt.Sprintf("#%d", fileID))
		}
		return nil
	})
}

// FileCount returns the number of tracked files.
func (s *ProjectStore) FileCount() (int64, error) {
	return s.count("SELECT COUNT(*) FROM files")
}

func (s *ProjectStore) count(query string, args ...any) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, errdefs.Store(err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// escapeLike escapes LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
