package store

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	"muckrake/internal/errdefs"
	"muckrake/internal/logging"
)

// projectSchemaVersion is bumped whenever projectMigrations grows.
const projectSchemaVersion = 2

const projectSchema = `
CREATE TABLE IF NOT EXISTS categories (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	pattern TEXT NOT NULL UNIQUE,
	category_type TEXT NOT NULL DEFAULT 'files',
	description TEXT
);

CREATE TABLE IF NOT EXISTS category_policy (
	id INTEGER PRIMARY KEY,
	category_id INTEGER NOT NULL UNIQUE REFERENCES categories(id) ON DELETE CASCADE,
	protection_level TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	path TEXT NOT NULL UNIQUE,
	sha256 TEXT,
	fingerprint TEXT,
	mime_type TEXT,
	size INTEGER,
	ingested_at TEXT NOT NULL,
	provenance TEXT,
	immutable INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_files_name ON files(name);

CREATE TABLE IF NOT EXISTS file_tags (
	file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	tag TEXT NOT NULL,
	file_hash TEXT,
	PRIMARY KEY (file_id, tag)
);

CREATE TABLE IF NOT EXISTS pipelines (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	states TEXT NOT NULL,
	transitions TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_attachments (
	id INTEGER PRIMARY KEY,
	pipeline_id INTEGER NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	scope_type TEXT NOT NULL,
	scope_value TEXT NOT NULL,
	UNIQUE(pipeline_id, scope_type, scope_value)
);

CREATE TABLE IF NOT EXISTS signs (
	id INTEGER PRIMARY KEY,
	pipeline_id INTEGER NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	file_hash TEXT NOT NULL,
	sign_name TEXT NOT NULL,
	signer TEXT NOT NULL,
	signed_at TEXT NOT NULL,
	signature TEXT,
	revoked_at TEXT,
	source TEXT
);
CREATE INDEX IF NOT EXISTS idx_signs_file ON signs(file_id, pipeline_id);

CREATE TABLE IF NOT EXISTS rules (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	enabled INTEGER NOT NULL DEFAULT 1,
	trigger_event TEXT NOT NULL,
	trigger_filter TEXT NOT NULL DEFAULT '{}',
	action_type TEXT NOT NULL,
	action_config TEXT NOT NULL DEFAULT '{}',
	priority INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
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

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY,
	timestamp TEXT NOT NULL,
	operation TEXT NOT NULL,
	file_id INTEGER,
	user TEXT,
	detail TEXT
);
`

// ProjectStore is the durable state of one project: tracked files, tags,
// categories and policies, pipelines, signs, rules, tool configs, and the
// audit log. One connection per process; a RWMutex gates concurrent
// handles when the store is embedded in a server.
type ProjectStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// CreateProject initializes a new project store at path.
func CreateProject(path string) (*ProjectStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s := &ProjectStore{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Get(logging.CategoryStore).Debugw("created project store", "path", path)
	return s, nil
}

// OpenProject opens an existing project store, applying any pending
// schema migrations in place.
func OpenProject(path string) (*ProjectStore, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errdefs.NotFound("project database", path)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s := &ProjectStore{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *ProjectStore) initialize() error {
	if _, err := s.db.Exec(projectSchema); err != nil {
		return errdefs.Store(fmt.Errorf("failed to initialize project schema: %w", err))
	}
	return migrateProject(s.db)
}

// Close releases the underlying connection.
func (s *ProjectStore) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *ProjectStore) Path() string {
	return s.path
}
