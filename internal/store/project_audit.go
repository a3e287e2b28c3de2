package store

import (
	"database/sql"
	"time"

	"muckrake/internal/errdefs"
)

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID        int64
	Timestamp time.Time
	Operation string
	FileID    *int64
	User      string
	Detail    string
}

// InsertAudit appends an audit entry. FileID may be nil for operations
// with no file context; Detail is a JSON blob.
func (s *ProjectStore) InsertAudit(operation string, fileID *int64, user, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withTx(s.db, func(tx *sql.Tx) error {
		var fid any
		if fileID != nil {
			fid = *fileID
		}
		_, err := tx.Exec(
			"INSERT INTO audit_log (timestamp, operation, file_id, user, detail) VALUES (?, ?, ?, ?, ?)",
			formatTime(time.Now()), operation, fid, nullString(user), nullString(detail),
		)
		return errdefs.Store(err)
	})
}

// ListAudit returns the most recent entries, newest first.
func (s *ProjectStore) ListAudit(limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, timestamp, operation, file_id, user, detail FROM audit_log
		 ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts string
		var fileID sql.NullInt64
		var user, detail sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.Operation, &fileID, &user, &detail); err != nil {
			return nil, errdefs.Store(err)
		}
		e.Timestamp = parseTime(ts)
		if fileID.Valid {
			id := fileID.Int64
			e.FileID = &id
		}
		e.User = fromNull(user)
		e.Detail = fromNull(detail)
		entries = append(entries, e)
	}
	return entries, errdefs.Store(rows.Err())
}

// LastVerifyTime returns the timestamp of the most recent verify run.
func (s *ProjectStore) LastVerifyTime() (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ts string
	err := s.db.QueryRow(
		"SELECT timestamp FROM audit_log WHERE operation = 'verify' ORDER BY timestamp DESC LIMIT 1",
	).Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Store(err)
	}
	t := parseTime(ts)
	return &t, nil
}
