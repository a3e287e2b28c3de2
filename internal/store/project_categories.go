package store

import (
	"database/sql"

	"muckrake/internal/errdefs"
	"muckrake/internal/model"
)

// CategoryWithPolicy pairs a category with its protection level.
type CategoryWithPolicy struct {
	Category model.Category
	Policy   model.ProtectionLevel
}

// InsertCategory creates a category and its 1:1 policy row in one
// transaction.
func (s *ProjectStore) InsertCategory(cat *model.Category, policy model.ProtectionLevel) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := cat.Name
	if name == "" {
		name = model.NameFromPattern(cat.Pattern)
	}

	var id int64
	err := withTx(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"INSERT INTO categories (name, pattern, category_type, description) VALUES (?, ?, ?, ?)",
			name, cat.Pattern, cat.Type.String(), nullString(cat.Description),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errdefs.AlreadyExists("category", cat.Pattern)
			}
			return errdefs.Store(err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return errdefs.Store(err)
		}
		_, err = tx.Exec(
			"INSERT INTO category_policy (category_id, protection_level) VALUES (?, ?)",
			id, policy.String(),
		)
		return errdefs.Store(err)
	})
	return id, err
}

func scanCategory(row interface{ Scan(...any) error }) (model.Category, error) {
	var c model.Category
	var desc sql.NullString
	var ctype string
	if err := row.Scan(&c.ID, &c.Name, &c.Pattern, &ctype, &desc); err != nil {
		return c, err
	}
	parsed, err := model.ParseCategoryType(ctype)
	if err != nil {
		return c, err
	}
	c.Type = parsed
	c.Description = fromNull(desc)
	return c, nil
}

const categoryColumns = "id, name, pattern, category_type, description"

// ListCategories returns every category ordered by pattern.
func (s *ProjectStore) ListCategories() ([]model.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT " + categoryColumns + " FROM categories ORDER BY pattern")
	if err != nil {
		return nil, errdefs.Store(err)
	}
	defer rows.Close()

	var cats []model.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, errdefs.Store(err)
		}
		cats = append(cats, c)
	}
	return cats, errdefs.Store(rows.Err())
}

// GetCategoryByName returns a category by derived name, or nil.
func (s *ProjectStore) GetCategoryByName(name string) (*model.Category, error) {
	return s.getCategoryWhere("name = ?", name)
}

// GetCategoryByPattern returns a category by exact pattern, or nil.
func (s *ProjectStore) GetCategoryByPattern(pattern string) (*model.Category, error) {
	return s.getCategoryWhere("pattern = ?", pattern)
}

func (s *ProjectStore) getCategoryWhere(where string, args ...any) (*model.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT "+categoryColumns+" FROM categories WHERE "+where, args...)
	c, err := scanCategory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Store(err)
	}
	return &c, nil
}

// RemoveCategory deletes a category (policy cascades) when no tracked file
// currently matches it.
func (s *ProjectStore) RemoveCategory(pattern string) error {
	cat, err := s.GetCategoryByPattern(pattern)
	if err != nil {
		return err
	}
	if cat == nil {
		return errdefs.NotFound("category", pattern)
	}

	files, err := s.ListFiles("")
	if err != nil {
		return err
	}
	for i := range files {
		if cat.Matches(files[i].Path) {
			return errdefs.ProtectionViolation(
				"in use", "remove category '"+pattern+"' with tracked files")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return withTx(s.db, func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM categories WHERE id = ?", cat.ID)
		return errdefs.Store(err)
	})
}

// GetPolicyForCategory returns the protection level for a category id.
func (s *ProjectStore) GetPolicyForCategory(categoryID int64) (model.ProtectionLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var level string
	err := s.db.QueryRow(
		"SELECT protection_level FROM category_policy WHERE category_id = ?", categoryID,
	).Scan(&level)
	if err == sql.ErrNoRows {
		return model.Editable, nil
	}
	if err != nil {
		return model.Editable, errdefs.Store(err)
	}
	parsed, err := model.ParseProtectionLevel(level)
	if err != nil {
		return model.Editable, errdefs.Store(err)
	}
	return parsed, nil
}

// UpdateCategoryPolicy replaces the protection level of a category.
func (s *ProjectStore) UpdateCategoryPolicy(categoryID int64, policy model.ProtectionLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withTx(s.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO category_policy (category_id, protection_level) VALUES (?, ?)
			 ON CONFLICT(category_id) DO UPDATE SET protection_level = excluded.protection_level`,
			categoryID, policy.String(),
		)
		return errdefs.Store(err)
	})
}

// MatchCategory returns the category whose pattern matches relPath. When
// several match, the longest pattern string wins (specificity tie-break);
// no match returns nil and callers default to Editable.
func (s *ProjectStore) MatchCategory(relPath string) (*model.Category, error) {
	cats, err := s.ListCategories()
	if err != nil {
		return nil, err
	}

	var best *model.Category
	for i := range cats {
		if !cats[i].Matches(relPath) {
			continue
		}
		if best == nil || len(cats[i].Pattern) > len(best.Pattern) {
			best = &cats[i]
		}
	}
	return best, nil
}

// ResolveProtection returns the protection level governing a path:
// the matching category's policy, or Editable when nothing matches.
func (s *ProjectStore) ResolveProtection(relPath string) (model.ProtectionLevel, error) {
	cat, err := s.MatchCategory(relPath)
	if err != nil {
		return model.Editable, err
	}
	if cat == nil {
		return model.Editable, nil
	}
	return s.GetPolicyForCategory(cat.ID)
}

// CategoryCount returns the number of categories.
func (s *ProjectStore) CategoryCount() (int64, error) {
	return s.count("SELECT COUNT(*) FROM categories")
}
