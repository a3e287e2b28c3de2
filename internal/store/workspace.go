package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"sync"
	"time"

	"muckrake/internal/errdefs"
	"muckrake/internal/logging"
	"muckrake/internal/model"
)

const workspaceSchemaVersion = 2

const workspaceSchema = `
CREATE TABLE IF NOT EXISTS workspace_config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	path TEXT NOT NULL,
	description TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS default_categories (
	id INTEGER PRIMARY KEY,
	name TEXT,
	pattern TEXT NOT NULL UNIQUE,
	category_type TEXT DEFAULT 'files',
	description TEXT
);

CREATE TABLE IF NOT EXISTS default_category_policy (
	id INTEGER PRIMARY KEY,
	category_id INTEGER NOT NULL UNIQUE REFERENCES default_categories(id) ON DELETE CASCADE,
	protection_level TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS default_pipelines (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	states TEXT NOT NULL,
	transitions TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tool_config (
	id INTEGER PRIMARY KEY,
	scope TEXT,
	action TEXT NOT NULL,
	file_type TEXT NOT NULL,
	command TEXT NOT NULL,
	env TEXT,
	quiet INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tag_tool_config (
	id INTEGER PRIMARY KEY,
	tag TEXT NOT NULL,
	action TEXT NOT NULL,
	file_type TEXT NOT NULL,
	command TEXT NOT NULL,
	env TEXT,
	quiet INTEGER DEFAULT 0,
	UNIQUE(tag, action, file_type)
);
`

// WorkspaceStore is the durable state of a workspace: registered projects,
// shared defaults seeded into new projects, and workspace-scoped tool
// configs used as fallbacks.
type WorkspaceStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// ProjectRow is a project registered in the workspace.
type ProjectRow struct {
	ID          int64
	Name        string
	Path        string
	Description string
	CreatedAt   time.Time
}

// CreateWorkspace initializes a new workspace store at path.
func CreateWorkspace(path string) (*WorkspaceStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	w := &WorkspaceStore{db: db, path: path}
	if err := w.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Get(logging.CategoryStore).Debugw("created workspace store", "path", path)
	return w, nil
}

// OpenWorkspace opens an existing workspace store, migrating in place.
func OpenWorkspace(path string) (*WorkspaceStore, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errdefs.NotFound("workspace database", path)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	w := &WorkspaceStore{db: db, path: path}
	if err := w.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func (w *WorkspaceStore) initialize() error {
	if _, err := w.db.Exec(workspaceSchema); err != nil {
		return errdefs.Store(err)
	}
	return migrateWorkspace(w.db)
}

// Close releases the underlying connection.
func (w *WorkspaceStore) Close() error {
	return w.db.Close()
}

// Path returns the database file location.
func (w *WorkspaceStore) Path() string {
	return w.path
}

// GetConfig reads a workspace config value; ok is false when unset.
func (w *WorkspaceStore) GetConfig(key string) (string, bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var value string
	err := w.db.QueryRow("SELECT value FROM workspace_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errdefs.Store(err)
	}
	return value, true, nil
}

// SetConfig writes a workspace config value.
func (w *WorkspaceStore) SetConfig(key, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return withTx(w.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO workspace_config (key, value) VALUES (?, ?)", key, value)
		return errdefs.Store(err)
	})
}

// RegisterProject records a project under the workspace.
func (w *WorkspaceStore) RegisterProject(name, path, description string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var id int64
	err := withTx(w.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"INSERT INTO projects (name, path, description, created_at) VALUES (?, ?, ?, ?)",
			name, path, nullString(description), formatTime(time.Now()),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errdefs.AlreadyExists("project", name)
			}
			return errdefs.Store(err)
		}
		id, err = res.LastInsertId()
		return errdefs.Store(err)
	})
	return id, err
}

// ListProjects returns registered projects ordered by name.
func (w *WorkspaceStore) ListProjects() ([]ProjectRow, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	rows, err := w.db.Query(
		"SELECT id, name, path, description, created_at FROM projects ORDER BY name")
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()

	var projects []ProjectRow
	for rows.Next() {
		p, err := scanProjectRow(rows)
		if err != nil {
			return nil, errdefs.Store(err)
		}
		projects = append(projects, p)
	}
	return projects, errdefs.Store(rows.Err())
}

// GetProjectByName returns a registered project, or nil.
func (w *WorkspaceStore) GetProjectByName(name string) (*ProjectRow, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	row := w.db.QueryRow(
		"SELECT id, name, path, description, created_at FROM projects WHERE name = ?", name)
	p, err := scanProjectRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Store(err)
	}
	return &p, nil
}

func scanProjectRow(row interface{ Scan(...any) error }) (ProjectRow, error) {
	var p ProjectRow
	var desc sql.NullString
	var createdAt string
	if err := row.Scan(&p.ID, &p.Name, &p.Path, &desc, &createdAt); err != nil {
		return p, err
	}
	p.Description = fromNull(desc)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// ProjectCount returns the number of registered projects.
func (w *WorkspaceStore) ProjectCount() (int64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var n int64
	if err := w.db.QueryRow("SELECT COUNT(*) FROM projects").Scan(&n); err != nil {
		return 0, errdefs.Store(err)
	}
	return n, nil
}

// InsertDefaultCategory stores a shared default category and its policy;
// `mkrk init` seeds these into child projects.
func (w *WorkspaceStore) InsertDefaultCategory(cat *model.Category, policy model.ProtectionLevel) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	name := cat.Name
	if name == "" {
		name = model.NameFromPattern(cat.Pattern)
	}

	var id int64
	err := withTx(w.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"INSERT INTO default_categories (name, pattern, category_type, description) VALUES (?, ?, ?, ?)",
			name, cat.Pattern, cat.Type.String(), nullString(cat.Description),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errdefs.AlreadyExists("default category", cat.Pattern)
			}
			return errdefs.Store(err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return errdefs.Store(err)
		}
		_, err = tx.Exec(
			"INSERT INTO default_category_policy (category_id, protection_level) VALUES (?, ?)",
			id, policy.String(),
		)
		return errdefs.Store(err)
	})
	return id, err
}

// ListDefaultCategories returns the shared defaults with their policies.
func (w *WorkspaceStore) ListDefaultCategories() ([]CategoryWithPolicy, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	rows, err := w.db.Query(
		`SELECT c.id, c.name, c.pattern, c.category_type, c.description,
		        COALESCE(p.protection_level, 'editable')
		 FROM default_categories c
		 LEFT JOIN default_category_policy p ON p.category_id = c.id
		 ORDER BY c.pattern`)
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()

	var items []CategoryWithPolicy
	for rows.Next() {
		var c model.Category
		var name, desc sql.NullString
		var ctype, level string
		if err := rows.Scan(&c.ID, &name, &c.Pattern, &ctype, &desc, &level); err != nil {
			return nil, errdefs.Store(err)
		}
		c.Name = fromNull(name)
		if c.Name == "" {
			c.Name = model.NameFromPattern(c.Pattern)
		}
		c.Description = fromNull(desc)
		parsedType, err := model.ParseCategoryType(ctype)
		if err != nil {
			return nil, errdefs.Store(err)
		}
		c.Type = parsedType
		parsedLevel, err := model.ParseProtectionLevel(level)
		if err != nil {
			return nil, errdefs.Store(err)
		}
		items = append(items, CategoryWithPolicy{Category: c, Policy: parsedLevel})
	}
	return items, errdefs.Store(rows.Err())
}

// InsertDefaultPipeline stores a workspace default pipeline.
func (w *WorkspaceStore) InsertDefaultPipeline(p *model.Pipeline) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	states, err := json.Marshal(p.States)
	if err != nil {
		return 0, errdefs.Store(err)
	}
	transitions, err := json.Marshal(p.Transitions)
	if err != nil {
		return 0, errdefs.Store(err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var id int64
	err = withTx(w.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"INSERT INTO default_pipelines (name, states, transitions) VALUES (?, ?, ?)",
			p.Name, string(states), string(transitions),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errdefs.AlreadyExists("default pipeline", p.Name)
			}
			return errdefs.Store(err)
		}
		id, err = res.LastInsertId()
		return errdefs.Store(err)
	})
	return id, err
}

// ListDefaultPipelines returns the workspace default pipelines by name.
func (w *WorkspaceStore) ListDefaultPipelines() ([]model.Pipeline, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	rows, err := w.db.Query("SELECT id, name, states, transitions FROM default_pipelines ORDER BY name")
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

// RemoveDefaultPipeline deletes a workspace default pipeline.
func (w *WorkspaceStore) RemoveDefaultPipeline(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return withTx(w.db, func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM default_pipelines WHERE name = ?", name)
		if err != nil {
			return errdefs.Store(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errdefs.Store(err)
		}
		if n == 0 {
			return errdefs.NotFound("default pipeline", name)
		}
		return nil
	})
}
