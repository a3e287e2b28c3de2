package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"muckrake/internal/errdefs"
	"muckrake/internal/model"
)

const pipelineColumns = "id, name, states, transitions"

func scanPipeline(row interface{ Scan(...any) error }) (model.Pipeline, error) {
	var p model.Pipeline
	var states, transitions string
	if err := row.Scan(&p.ID, &p.Name, &states, &transitions); err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(states), &p.States); err != nil {
		return p, fmt.Errorf("corrupt states for pipeline %q: %w", p.Name, err)
	}
	if err := json.Unmarshal([]byte(transitions), &p.Transitions); err != nil {
		return p, fmt.Errorf("corrupt transitions for pipeline %q: %w", p.Name, err)
	}
	return p, nil
}

func marshalPipeline(p *model.Pipeline) (string, string, error) {
	states, err := json.Marshal(p.States)
	if err != nil {
		return "", "", err
	}
	transitions, err := json.Marshal(p.Transitions)
	if err != nil {
		return "", "", err
	}
	return string(states), string(transitions), nil
}

// InsertPipeline validates and stores a pipeline, returning its id.
func (s *ProjectStore) InsertPipeline(p *model.Pipeline) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	states, transitions, err := marshalPipeline(p)
	if err != nil {
		return 0, errdefs.Store(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err = withTx(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"INSERT INTO pipelines (name, states, transitions) VALUES (?, ?, ?)",
			p.Name, states, transitions,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errdefs.AlreadyExists("pipeline", p.Name)
			}
			return errdefs.Store(err)
		}
		id, err = res.LastInsertId()
		return errdefs.Store(err)
	})
	return id, err
}

// GetPipelineByName returns a pipeline by name, or nil.
func (s *ProjectStore) GetPipelineByName(name string) (*model.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT "+pipelineColumns+" FROM pipelines WHERE name = ?", name)
	p, err := scanPipeline(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Store(err)
	}
	return &p, nil
}

// ListPipelines returns every pipeline ordered by name.
func (s *ProjectStore) ListPipelines() ([]model.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT " + pipelineColumns + " FROM pipelines ORDER BY name")
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()

	var pipelines []model.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, errdefs.Store(err)
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, errdefs.Store(rows.Err())
}

// RemovePipeline deletes a pipeline; attachments and signs cascade.
func (s *ProjectStore) RemovePipeline(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withTx(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM pipelines WHERE name = ?", name)
		if err != nil {
			return errdefs.Store(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errdefs.Store(err)
		}
		if n == 0 {
			return errdefs.NotFound("pipeline", name)
		}
		return nil
	})
}

// PipelineCount returns the number of pipelines.
func (s *ProjectStore) PipelineCount() (int64, error) {
	return s.count("SELECT COUNT(*) FROM pipelines")
}

// AttachPipeline binds a pipeline to a category or tag scope.
// Duplicate attachments succeed silently (idempotent).
func (s *ProjectStore) AttachPipeline(pipelineID int64, scope model.AttachmentScope, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withTx(s.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO pipeline_attachments (pipeline_id, scope_type, scope_value)
			 VALUES (?, ?, ?)
			 ON CONFLICT(pipeline_id, scope_type, scope_value) DO NOTHING`,
			pipelineID, scope.String(), value,
		)
		return errdefs.Store(err)
	})
}

// DetachPipeline removes a binding, reporting how many rows matched.
func (s *ProjectStore) DetachPipeline(pipelineID int64, scope model.AttachmentScope, value string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := withTx(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"DELETE FROM pipeline_attachments WHERE pipeline_id = ? AND scope_type = ? AND scope_value = ?",
			pipelineID, scope.String(), value,
		)
		if err != nil {
			return errdefs.Store(err)
		}
		n, err = res.RowsAffected()
		return errdefs.Store(err)
	})
	return n, err
}

// ListAttachments returns a pipeline's bindings ordered by scope then value.
func (s *ProjectStore) ListAttachments(pipelineID int64) ([]model.PipelineAttachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, pipeline_id, scope_type, scope_value FROM pipeline_attachments
		 WHERE pipeline_id = ? ORDER BY scope_type, scope_value`, pipelineID)
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()

	var atts []model.PipelineAttachment
	for rows.Next() {
		var a model.PipelineAttachment
		var scope string
		if err := rows.Scan(&a.ID, &a.PipelineID, &scope, &a.ScopeValue); err != nil {
			return nil, errdefs.Store(err)
		}
		parsed, err := model.ParseAttachmentScope(scope)
		if err != nil {
			return nil, errdefs.Store(err)
		}
		a.ScopeType = parsed
		atts = append(atts, a)
	}
	return atts, errdefs.Store(rows.Err())
}

// GetPipelinesForFile collects every pipeline attached via (a) a category
// whose pattern matches relPath or (b) a tag the file holds, deduplicated.
func (s *ProjectStore) GetPipelinesForFile(relPath string, categories []model.Category, tags []string) ([]model.Pipeline, error) {
	ids := make(map[int64]bool)
	var order []int64

	collect := func(scope model.AttachmentScope, values []string) error {
		if len(values) == 0 {
			return nil
		}
		s.mu.RLock()
		defer s.mu.RUnlock()

		query := "SELECT pipeline_id FROM pipeline_attachments WHERE scope_type = ? AND scope_value IN ("
		args := []any{scope.String()}
		for i, v := range values {
			if i > 0 {
				query += ", "
			}
			query += "?"
			args = append(args, v)
		}
		query += ") ORDER BY pipeline_id"

		rows, err := s.db.Query(query, args...)
		if err != nil {
			return errdefs.Store(err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return errdefs.Store(err)
			}
			if !ids[id] {
				ids[id] = true
				order = append(order, id)
			}
		}
		return errdefs.Store(rows.Err())
	}

	var matchingCats []string
	for i := range categories {
		if categories[i].Matches(relPath) {
			matchingCats = append(matchingCats, categories[i].Name)
		}
	}
	if err := collect(model.ScopeCategory, matchingCats); err != nil {
		return nil, err
	}
	if err := collect(model.ScopeTag, tags); err != nil {
		return nil, err
	}

	var pipelines []model.Pipeline
	for _, id := range order {
		s.mu.RLock()
		row := s.db.QueryRow("SELECT "+pipelineColumns+" FROM pipelines WHERE id = ?", id)
		p, err := scanPipeline(row)
		s.mu.RUnlock()
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, errdefs.Store(err)
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}
