package store

import (
	"database/sql"
	"strings"

	"muckrake/internal/errdefs"
)

// ToolConfig maps an (optional category scope, action, file type) triple to
// a command. A NULL scope is the default config for the action.
type ToolConfig struct {
	ID       int64
	Scope    string // empty means default scope
	Action   string
	FileType string
	Command  string
	Env      string // JSON object of env overrides; null value removes a var
	Quiet    bool
}

// TagToolConfig maps a (tag, action, file type) triple to a command.
type TagToolConfig struct {
	ID       int64
	Tag      string
	Action   string
	FileType string
	Command  string
	Env      string
	Quiet    bool
}

func insertToolConfig(db *sql.DB, c *ToolConfig) (int64, error) {
	var id int64
	err := withTx(db, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"INSERT INTO tool_config (scope, action, file_type, command, env, quiet) VALUES (?, ?, ?, ?, ?, ?)",
			nullString(c.Scope), c.Action, c.FileType, c.Command, nullString(c.Env), boolToInt(c.Quiet),
		)
		if err != nil {
			return errdefs.Store(err)
		}
		id, err = res.LastInsertId()
		return errdefs.Store(err)
	})
	return id, err
}

// getToolConfig resolves one config for (scope, action, fileType):
// scoped rows beat default rows, exact file types beat '*'.
func getToolConfig(db *sql.DB, scope, action, fileType string) (*ToolConfig, error) {
	row := db.QueryRow(
		`SELECT id, scope, action, file_type, command, env, quiet FROM tool_config
		 WHERE (scope = ? OR scope IS NULL) AND action = ? AND (file_type = ? OR file_type = '*')
		 ORDER BY
			CASE WHEN scope IS NOT NULL THEN 0 ELSE 1 END,
			CASE WHEN file_type = '*' THEN 1 ELSE 0 END
		 LIMIT 1`,
		nullString(scope), action, fileType,
	)
	c, err := scanToolConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Store(err)
	}
	return &c, nil
}

func scanToolConfig(row interface{ Scan(...any) error }) (ToolConfig, error) {
	var c ToolConfig
	var scope, env sql.NullString
	var quiet int
	if err := row.Scan(&c.ID, &scope, &c.Action, &c.FileType, &c.Command, &env, &quiet); err != nil {
		return c, err
	}
	c.Scope = fromNull(scope)
	c.Env = fromNull(env)
	c.Quiet = quiet != 0
	return c, nil
}

func listToolConfigs(db *sql.DB) ([]ToolConfig, error) {
	rows, err := db.Query(
		"SELECT id, scope, action, file_type, command, env, quiet FROM tool_config ORDER BY action, file_type")
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()

	var configs []ToolConfig
	for rows.Next() {
		c, err := scanToolConfig(rows)
		if err != nil {
			return nil, errdefs.Store(err)
		}
		configs = append(configs, c)
	}
	return configs, errdefs.Store(rows.Err())
}

func removeToolConfig(db *sql.DB, id int64) error {
	return withTx(db, func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM tool_config WHERE id = ?", id)
		if err != nil {
			return errdefs.Store(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errdefs.Store(err)
		}
		if n == 0 {
			return errdefs.NotFound("tool config", "by id")
		}
		return nil
	})
}

func insertTagToolConfig(db *sql.DB, c *TagToolConfig) (int64, error) {
	var id int64
	err := withTx(db, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"INSERT INTO tag_tool_config (tag, action, file_type, command, env, quiet) VALUES (?, ?, ?, ?, ?, ?)",
			c.Tag, c.Action, c.FileType, c.Command, nullString(c.Env), boolToInt(c.Quiet),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errdefs.AlreadyExists("tag tool config", c.Tag+"/"+c.Action)
			}
			return errdefs.Store(err)
		}
		id, err = res.LastInsertId()
		return errdefs.Store(err)
	})
	return id, err
}

// getTagToolConfigs returns all tag configs matching any of the tags.
func getTagToolConfigs(db *sql.DB, tags []string, action, fileType string) ([]TagToolConfig, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tags)), ", ")
	args := []any{action, fileType}
	for _, t := range tags {
		args = append(args, t)
	}

	rows, err := db.Query(
		`SELECT id, tag, action, file_type, command, env, quiet FROM tag_tool_config
		 WHERE action = ? AND (file_type = ? OR file_type = '*') AND tag IN (`+placeholders+`)
		 ORDER BY tag`, args...)
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()

	var configs []TagToolConfig
	for rows.Next() {
		var c TagToolConfig
		var env sql.NullString
		var quiet int
		if err := rows.Scan(&c.ID, &c.Tag, &c.Action, &c.FileType, &c.Command, &env, &quiet); err != nil {
			return nil, errdefs.Store(err)
		}
		c.Env = fromNull(env)
		c.Quiet = quiet != 0
		configs = append(configs, c)
	}
	return configs, errdefs.Store(rows.Err())
}

// Project store accessors.

func (s *ProjectStore) InsertToolConfig(c *ToolConfig) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertToolConfig(s.db, c)
}

func (s *ProjectStore) GetToolConfig(scope, action, fileType string) (*ToolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getToolConfig(s.db, scope, action, fileType)
}

func (s *ProjectStore) ListToolConfigs() ([]ToolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listToolConfigs(s.db)
}

func (s *ProjectStore) RemoveToolConfig(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeToolConfig(s.db, id)
}

func (s *ProjectStore) InsertTagToolConfig(c *TagToolConfig) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertTagToolConfig(s.db, c)
}

func (s *ProjectStore) GetTagToolConfigs(tags []string, action, fileType string) ([]TagToolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTagToolConfigs(s.db, tags, action, fileType)
}

// Workspace store accessors (fallbacks when the project has no match).

func (w *WorkspaceStore) InsertToolConfig(c *ToolConfig) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return insertToolConfig(w.db, c)
}

func (w *WorkspaceStore) GetToolConfig(scope, action, fileType string) (*ToolConfig, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return getToolConfig(w.db, scope, action, fileType)
}

func (w *WorkspaceStore) ListToolConfigs() ([]ToolConfig, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return listToolConfigs(w.db)
}

func (w *WorkspaceStore) InsertTagToolConfig(c *TagToolConfig) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return insertTagToolConfig(w.db, c)
}

func (w *WorkspaceStore) GetTagToolConfigs(tags []string, action, fileType string) ([]TagToolConfig, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return getTagToolConfigs(w.db, tags, action, fileType)
}
