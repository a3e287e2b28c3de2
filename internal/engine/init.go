package engine

import (
	"os"
	"path/filepath"
	"strings"

	"muckrake/internal/discovery"
	"muckrake/internal/errdefs"
	"muckrake/internal/model"
	"muckrake/internal/refs"
	"muckrake/internal/store"
)

type defaultCategory struct {
	pattern     string
	catType     model.CategoryType
	level       model.ProtectionLevel
	description string
}

// defaultCategories seed a fresh project when neither custom specs nor
// workspace defaults apply.
var defaultCategories = []defaultCategory{
	{"evidence/**", model.CategoryFiles, model.Immutable, "Evidence files"},
	{"sources/**", model.CategoryFiles, model.Immutable, "Source materials"},
	{"analysis/**", model.CategoryFiles, model.Protected, "Analysis documents"},
	{"notes/**", model.CategoryFiles, model.Editable, "Working notes"},
	{"tools/**", model.CategoryTools, model.Editable, "Project tools"},
}

// InitProjectParams configures project initialization.
type InitProjectParams struct {
	// Name creates the project in a subdirectory (required inside a
	// workspace, optional outside).
	Name         string
	NoCategories bool
	// CustomCategories are "pattern:level" or "pattern:type:level" specs.
	CustomCategories []string
}

// InitProject creates a .mkrk store, seeds categories (custom specs, else
// workspace defaults, else built-ins), and registers the project in the
// enclosing workspace when one exists.
func InitProject(cwd string, params *InitProjectParams) (string, int, error) {
	projectDir, err := resolveProjectDir(cwd, params.Name)
	if err != nil {
		return "", 0, err
	}

	dbPath := filepath.Join(projectDir, discovery.ProjectMarker)
	if _, err := os.Stat(dbPath); err == nil {
		return "", 0, errdefs.AlreadyExists("project in", projectDir)
	}
	if _, err := os.Stat(filepath.Join(projectDir, discovery.WorkspaceMarker)); err == nil {
		return "", 0, errdefs.AlreadyExists("workspace in", projectDir)
	}

	projectName := filepath.Base(projectDir)
	if projectName != "" && projectName != "." && projectName != "/" {
		if err := refs.ValidateName(projectName); err != nil {
			return "", 0, err
		}
	}

	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return "", 0, errdefs.IO("creating project directory", err)
	}
	project, err := store.CreateProject(dbPath)
	if err != nil {
		return "", 0, err
	}
	defer project.Close()

	items, err := resolveSeedCategories(projectDir, params)
	if err != nil {
		return "", 0, err
	}
	for _, item := range items {
		if _, err := project.InsertCategory(&item.Category, item.Policy); err != nil {
			return "", 0, err
		}
	}

	if err := registerInWorkspace(projectDir); err != nil {
		return "", 0, err
	}
	return projectDir, len(items), nil
}

func resolveProjectDir(cwd, name string) (string, error) {
	wsRoot, ws, err := findEnclosingWorkspace(cwd)
	if err != nil {
		return "", err
	}
	if ws != nil {
		defer ws.Close()
	}

	switch {
	case name != "" && ws != nil:
		projectsDir, ok, err := ws.GetConfig("projects_dir")
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errdefs.NotFound("workspace config", "projects_dir")
		}
		return filepath.Join(wsRoot, projectsDir, name), nil
	case name != "":
		return filepath.Join(cwd, name), nil
	case ws != nil:
		return "", errdefs.InvalidReference("project name required when inside a workspace")
	default:
		return cwd, nil
	}
}

func findEnclosingWorkspace(cwd string) (string, *store.WorkspaceStore, error) {
	root, err := discovery.FindWorkspaceRoot(cwd)
	if err != nil {
		if errdefs.IsWorkspaceRequired(err) {
			return "", nil, nil
		}
		return "", nil, err
	}
	ws, err := store.OpenWorkspace(filepath.Join(root, discovery.WorkspaceMarker))
	if err != nil {
		return "", nil, err
	}
	return root, ws, nil
}

func resolveSeedCategories(projectDir string, params *InitProjectParams) ([]store.CategoryWithPolicy, error) {
	if len(params.CustomCategories) > 0 {
		return parseCustomCategories(params.CustomCategories)
	}
	if params.NoCategories {
		return nil, nil
	}

	_, ws, err := findEnclosingWorkspace(filepath.Dir(projectDir))
	if err != nil {
		return nil, err
	}
	if ws != nil {
		defer ws.Close()
		items, err := ws.ListDefaultCategories()
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			return items, nil
		}
	}

	return builtinCategories(), nil
}

func builtinCategories() []store.CategoryWithPolicy {
	items := make([]store.CategoryWithPolicy, len(defaultCategories))
	for i, d := range defaultCategories {
		items[i] = store.CategoryWithPolicy{
			Category: model.Category{
				Name:        model.NameFromPattern(d.pattern),
				Pattern:     d.pattern,
				Type:        d.catType,
				Description: d.description,
			},
			Policy: d.level,
		}
	}
	return items
}

// parseCustomCategories accepts "pattern:level" and "pattern:type:level".
func parseCustomCategories(specs []string) ([]store.CategoryWithPolicy, error) {
	var items []store.CategoryWithPolicy
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)
		var item store.CategoryWithPolicy
		switch len(parts) {
		case 2:
			level, err := model.ParseProtectionLevel(parts[1])
			if err != nil {
				return nil, errdefs.InvalidReference("invalid category spec '%s': %v", spec, err)
			}
			item = store.CategoryWithPolicy{
				Category: model.Category{Pattern: parts[0]},
				Policy:   level,
			}
		case 3:
			catType, err := model.ParseCategoryType(parts[1])
			if err != nil {
				return nil, errdefs.InvalidReference("invalid category spec '%s': %v", spec, err)
			}
			level, err := model.ParseProtectionLevel(parts[2])
			if err != nil {
				return nil, errdefs.InvalidReference("invalid category spec '%s': %v", spec, err)
			}
			item = store.CategoryWithPolicy{
				Category: model.Category{Pattern: parts[0], Type: catType},
				Policy:   level,
			}
		default:
			return nil, errdefs.InvalidReference(
				"invalid category format '%s', expected 'pattern:level' or 'pattern:type:level'", spec)
		}
		item.Category.Name = model.NameFromPattern(item.Category.Pattern)
		items = append(items, item)
	}
	return items, nil
}

func registerInWorkspace(projectDir string) error {
	root, ws, err := findEnclosingWorkspace(filepath.Dir(projectDir))
	if err != nil || ws == nil {
		return err
	}
	defer ws.Close()

	relPath, err := filepath.Rel(root, projectDir)
	if err != nil {
		return errdefs.IO("relativizing project path", err)
	}
	name := filepath.Base(projectDir)
	if err := refs.ValidateName(name); err != nil {
		return err
	}
	_, err = ws.RegisterProject(name, filepath.ToSlash(relPath), "")
	return err
}

// InitWorkspaceParams configures workspace initialization.
type InitWorkspaceParams struct {
	ProjectsDir  string
	Inbox        bool
	NoCategories bool
}

// InitWorkspace creates a .mksp store with a projects directory, an
// optional inbox, and the default category seed values for child
// projects.
func InitWorkspace(cwd string, params *InitWorkspaceParams) error {
	dbPath := filepath.Join(cwd, discovery.WorkspaceMarker)
	if _, err := os.Stat(dbPath); err == nil {
		return errdefs.AlreadyExists("workspace in", cwd)
	}
	if _, err := os.Stat(filepath.Join(cwd, discovery.ProjectMarker)); err == nil {
		return errdefs.AlreadyExists("project in", cwd)
	}
	if err := validateProjectsDir(params.ProjectsDir); err != nil {
		return err
	}

	ws, err := store.CreateWorkspace(dbPath)
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.SetConfig("projects_dir", params.ProjectsDir); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(cwd, params.ProjectsDir), 0o755); err != nil {
		return errdefs.IO("creating projects directory", err)
	}

	if params.Inbox {
		if err := os.MkdirAll(filepath.Join(cwd, "inbox"), 0o755); err != nil {
			return errdefs.IO("creating inbox directory", err)
		}
		if err := ws.SetConfig("inbox_dir", "inbox"); err != nil {
			return err
		}
	}

	if !params.NoCategories {
		for _, item := range builtinCategories() {
			if _, err := ws.InsertDefaultCategory(&item.Category, item.Policy); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateProjectsDir(dir string) error {
	if dir == "" {
		return errdefs.InvalidReference("projects directory must not be empty")
	}
	if strings.HasPrefix(dir, "/") {
		return errdefs.InvalidReference("projects directory must be a relative path")
	}
	if strings.Contains(dir, "..") {
		return errdefs.InvalidReference("projects directory must not contain '..'")
	}
	if info, err := os.Lstat(dir); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errdefs.InvalidReference("projects directory must not be a symlink")
	}
	return nil
}
