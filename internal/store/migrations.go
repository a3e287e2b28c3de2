package store

import (
	"database/sql"

	"muckrake/internal/logging"
)

// migration adds a single column when an older database is missing it.
// Migrations are additive and idempotent: re-running them is harmless.
type migration struct {
	table  string
	column string
	def    string
}

// projectMigrations upgrades pre-current project stores.
// v1: original schema without tag hash snapshots or sign provenance.
// v2: file_tags.file_hash, signs.source, files.fingerprint, tool quiet flags.
var projectMigrations = []migration{
	{"file_tags", "file_hash", "TEXT"},
	{"signs", "source", "TEXT"},
	{"files", "fingerprint", "TEXT"},
	{"tool_config", "quiet", "INTEGER DEFAULT 0"},
	{"tag_tool_config", "quiet", "INTEGER DEFAULT 0"},
}

// workspaceMigrations upgrades pre-current workspace stores.
var workspaceMigrations = []migration{
	{"default_categories", "name", "TEXT"},
	{"default_categories", "category_type", "TEXT DEFAULT 'files'"},
	{"tool_config", "quiet", "INTEGER DEFAULT 0"},
	{"tag_tool_config", "quiet", "INTEGER DEFAULT 0"},
}

func migrateProject(db *sql.DB) error {
	return runMigrations(db, projectMigrations, projectSchemaVersion)
}

func migrateWorkspace(db *sql.DB) error {
	return runMigrations(db, workspaceMigrations, workspaceSchemaVersion)
}

func runMigrations(db *sql.DB, migrations []migration, targetVersion int) error {
	current, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if current >= targetVersion {
		return nil
	}

	log := logging.Get(logging.CategoryStore)
	applied := 0
	for _, m := range migrations {
		if !tableExists(db, m.table) {
			continue
		}
		if columnExists(db, m.table, m.column) {
			continue
		}
		query := "ALTER TABLE " + m.table + " ADD COLUMN " + m.column + " " + m.def
		if _, err := db.Exec(query); err != nil {
			// Column may already exist in another form; skip rather than fail.
			log.Warnw("migration skipped", "table", m.table, "column", m.column, "err", err)
			continue
		}
		applied++
	}
	if applied > 0 {
		log.Debugw("schema migrations applied", "count", applied, "version", targetVersion)
	}
	return setSchemaVersion(db, targetVersion)
}
