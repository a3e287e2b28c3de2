package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"muckrake/internal/errdefs"
	"muckrake/internal/model"
)

const ruleColumns = "id, name, enabled, trigger_event, trigger_filter, action_type, action_config, priority, created_at"

func scanRule(row interface{ Scan(...any) error }) (model.Rule, error) {
	var r model.Rule
	var enabled int
	var event, filter, action, config, createdAt string

	err := row.Scan(&r.ID, &r.Name, &enabled, &event, &filter, &action, &config,
		&r.Priority, &createdAt)
	if err != nil {
		return r, err
	}
	r.Enabled = enabled != 0
	r.CreatedAt = parseTime(createdAt)

	if r.TriggerEvent, err = model.ParseTriggerEvent(event); err != nil {
		return r, fmt.Errorf("rule %q: %w", r.Name, err)
	}
	if r.ActionType, err = model.ParseActionType(action); err != nil {
		return r, fmt.Errorf("rule %q: %w", r.Name, err)
	}
	if err := json.Unmarshal([]byte(filter), &r.TriggerFilter); err != nil {
		return r, fmt.Errorf("corrupt trigger filter for rule %q: %w", r.Name, err)
	}
	if err := json.Unmarshal([]byte(config), &r.ActionConfig); err != nil {
		return r, fmt.Errorf("corrupt action config for rule %q: %w", r.Name, err)
	}
	return r, nil
}

// InsertRule stores a rule after validating its action config.
func (s *ProjectStore) InsertRule(r *model.Rule) (int64, error) {
	if err := r.ValidateActionConfig(); err != nil {
		return 0, errdefs.InvalidReference("rule '%s': %v", r.Name, err)
	}
	filter, err := json.Marshal(r.TriggerFilter)
	if err != nil {
		return 0, errdefs.Store(err)
	}
	config, err := json.Marshal(r.ActionConfig)
	if err != nil {
		return 0, errdefs.Store(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err = withTx(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO rules (name, enabled, trigger_event, trigger_filter, action_type, action_config, priority, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.Name, boolToInt(r.Enabled), r.TriggerEvent.String(), string(filter),
			r.ActionType.String(), string(config), r.Priority, formatTime(r.CreatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errdefs.AlreadyExists("rule", r.Name)
			}
			return errdefs.Store(err)
		}
		id, err = res.LastInsertId()
		return errdefs.Store(err)
	})
	return id, err
}

// ListRules returns every rule ordered by priority descending then
// insertion order.
func (s *ProjectStore) ListRules() ([]model.Rule, error) {
	return s.queryRules("SELECT " + ruleColumns + " FROM rules ORDER BY priority DESC, id")
}

// GetMatchingRules returns enabled rules whose trigger event matches,
// ordered by priority descending then insertion order.
func (s *ProjectStore) GetMatchingRules(event model.TriggerEvent) ([]model.Rule, error) {
	return s.queryRules(
		"SELECT "+ruleColumns+" FROM rules WHERE enabled = 1 AND trigger_event = ? ORDER BY priority DESC, id",
		event.String(),
	)
}

func (s *ProjectStore) queryRules(query string, args ...any) ([]model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()

	var rules []model.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, errdefs.Store(err)
		}
		rules = append(rules, r)
	}
	return rules, errdefs.Store(rows.Err())
}

// RemoveRule deletes a rule by name.
func (s *ProjectStore) RemoveRule(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withTx(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM rules WHERE name = ?", name)
		if err != nil {
			return errdefs.Store(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errdefs.Store(err)
		}
		if n == 0 {
			return errdefs.NotFound("rule", name)
		}
		return nil
	})
}

// SetRuleEnabled toggles a rule.
func (s *ProjectStore) SetRuleEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withTx(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec("UPDATE rules SET enabled = ? WHERE name = ?",
			boolToInt(enabled), name)
		if err != nil {
			return errdefs.Store(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errdefs.Store(err)
		}
		if n == 0 {
			return errdefs.NotFound("rule", name)
		}
		return nil
	})
}
