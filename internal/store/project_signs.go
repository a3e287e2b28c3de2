package store

import (
	"database/sql"
	"time"

	"muckrake/internal/errdefs"
	"muckrake/internal/model"
)

const signColumns = "id, pipeline_id, file_id, file_hash, sign_name, signer, signed_at, signature, revoked_at, source"

func scanSign(row interface{ Scan(...any) error }) (model.Sign, error) {
	var s model.Sign
	var signedAt string
	var signature, revokedAt, source sql.NullString

	err := row.Scan(&s.ID, &s.PipelineID, &s.FileID, &s.FileHash, &s.SignName,
		&s.Signer, &signedAt, &signature, &revokedAt, &source)
	if err != nil {
		return s, err
	}
	s.SignedAt = parseTime(signedAt)
	s.Signature = fromNull(signature)
	s.Source = fromNull(source)
	if revokedAt.Valid {
		t := parseTime(revokedAt.String)
		s.RevokedAt = &t
	}
	return s, nil
}

// InsertSign records a sign. Signs are append-only; the only later
// mutation is setting revoked_at through RevokeSign.
func (s *ProjectStore) InsertSign(sign *model.Sign) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := withTx(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO signs (pipeline_id, file_id, file_hash, sign_name, signer, signed_at, signature, source)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sign.PipelineID, sign.FileID, sign.FileHash, sign.SignName,
			sign.Signer, formatTime(sign.SignedAt),
			nullString(sign.Signature), nullString(sign.Source),
		)
		if err != nil {
			return errdefs.Store(err)
		}
		id, err = res.LastInsertId()
		return errdefs.Store(err)
	})
	return id, err
}

// RevokeSign sets revoked_at on a not-yet-revoked sign.
func (s *ProjectStore) RevokeSign(signID int64, revokedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := withTx(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"UPDATE signs SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL",
			formatTime(revokedAt), signID,
		)
		if err != nil {
			return errdefs.Store(err)
		}
		n, err = res.RowsAffected()
		return errdefs.Store(err)
	})
	return n, err
}

// FindSign returns the most recent non-revoked sign for
// (file, pipeline, sign name), or nil.
func (s *ProjectStore) FindSign(fileID, pipelineID int64, signName string) (*model.Sign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT `+signColumns+` FROM signs
		 WHERE file_id = ? AND pipeline_id = ? AND sign_name = ? AND revoked_at IS NULL
		 ORDER BY signed_at DESC, id DESC LIMIT 1`,
		fileID, pipelineID, signName,
	)
	sign, err := scanSign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Store(err)
	}
	return &sign, nil
}

// GetSignsForFile returns every sign (active, stale, and revoked) for a
// file across all pipelines, ordered by pipeline then signing time.
func (s *ProjectStore) GetSignsForFile(fileID int64) ([]model.Sign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT `+signColumns+` FROM signs WHERE file_id = ?
		 ORDER BY pipeline_id, signed_at, id`, fileID)
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()

	var signs []model.Sign
	for rows.Next() {
		sign, err := scanSign(rows)
		if err != nil {
			return nil, errdefs.Store(err)
		}
		signs = append(signs, sign)
	}
	return signs, errdefs.Store(rows.Err())
}

// GetSignsForFilePipeline returns a file's signs limited to one pipeline.
func (s *ProjectStore) GetSignsForFilePipeline(fileID, pipelineID int64) ([]model.Sign, error) {
	all, err := s.GetSignsForFile(fileID)
	if err != nil {
		return nil, err
	}
	var signs []model.Sign
	for _, sign := range all {
		if sign.PipelineID == pipelineID {
			signs = append(signs, sign)
		}
	}
	return signs, nil
}

// SignCount returns the number of non-revoked signs.
func (s *ProjectStore) SignCount() (int64, error) {
	return s.count("SELECT COUNT(*) FROM signs WHERE revoked_at IS NULL")
}
