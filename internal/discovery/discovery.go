// Package discovery locates the project and workspace governing a working
// directory. A project is any directory containing a .mkrk store; a
// workspace any directory containing .mksp. Both may exist on the same
// ancestor chain (nested); the nearest of each wins. Callers pass an
// explicit directory rather than consulting process state so the walk is
// testable and scope prefixes can re-root it.
package discovery

import (
	"os"
	"path/filepath"

	"muckrake/internal/errdefs"
	"muckrake/internal/logging"
	"muckrake/internal/store"
)

// ProjectMarker is the project store filename.
const ProjectMarker = ".mkrk"

// WorkspaceMarker is the workspace store filename.
const WorkspaceMarker = ".mksp"

// WorkspaceContext is an open workspace store with its root directory.
type WorkspaceContext struct {
	Root  string
	Store *store.WorkspaceStore
}

// Context is the result of discovery: either a project (optionally inside
// a workspace), a bare workspace, or neither.
type Context struct {
	ProjectRoot string
	Project     *store.ProjectStore
	Workspace   *WorkspaceContext
}

// InProject reports whether a project store is open.
func (c *Context) InProject() bool { return c.Project != nil }

// InWorkspace reports whether a workspace store is open.
func (c *Context) InWorkspace() bool { return c.Workspace != nil }

// Empty reports whether neither store was found.
func (c *Context) Empty() bool { return !c.InProject() && !c.InWorkspace() }

// RequireProject returns the project root and store, or ProjectRequired.
func (c *Context) RequireProject() (string, *store.ProjectStore, error) {
	if !c.InProject() {
		return "", nil, errdefs.ProjectRequired("not inside a mkrk project (no .mkrk found)")
	}
	return c.ProjectRoot, c.Project, nil
}

// Close releases both stores. Safe on a partially opened context.
func (c *Context) Close() {
	if c.Project != nil {
		_ = c.Project.Close()
	}
	if c.Workspace != nil && c.Workspace.Store != nil {
		_ = c.Workspace.Store.Close()
	}
}

// Discover walks up from cwd accumulating the first .mkrk and first .mksp
// ancestors, then opens whichever stores were found. The workspace store
// is always acquired before the project store.
func Discover(cwd string) (*Context, error) {
	projectRoot, workspaceRoot := findRoots(cwd)
	ctx := &Context{}

	if workspaceRoot != "" {
		ws, err := store.OpenWorkspace(filepath.Join(workspaceRoot, WorkspaceMarker))
		if err != nil {
			return nil, err
		}
		ctx.Workspace = &WorkspaceContext{Root: workspaceRoot, Store: ws}
	}

	if projectRoot != "" {
		proj, err := store.OpenProject(filepath.Join(projectRoot, ProjectMarker))
		if err != nil {
			ctx.Close()
			return nil, err
		}
		ctx.ProjectRoot = projectRoot
		ctx.Project = proj
	}

	logging.Get(logging.CategoryBoot).Debugw("discovered context",
		"project", projectRoot, "workspace", workspaceRoot)
	return ctx, nil
}

func findRoots(cwd string) (projectRoot, workspaceRoot string) {
	dir := filepath.Clean(cwd)
	for {
		if projectRoot == "" && exists(filepath.Join(dir, ProjectMarker)) {
			projectRoot = dir
		}
		if workspaceRoot == "" && exists(filepath.Join(dir, WorkspaceMarker)) {
			workspaceRoot = dir
		}
		if projectRoot != "" && workspaceRoot != "" {
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FindWorkspaceRoot walks up from cwd to the nearest workspace root.
func FindWorkspaceRoot(cwd string) (string, error) {
	dir := filepath.Clean(cwd)
	for {
		if exists(filepath.Join(dir, WorkspaceMarker)) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errdefs.WorkspaceRequired("scope prefix requires a workspace (no .mksp found)")
		}
		dir = parent
	}
}

// ResolveScope maps a CLI scope prefix to the directory commands should
// run from: bare "" means the workspace root, a name means that
// registered project's root.
func ResolveScope(cwd, scope string) (string, error) {
	wsRoot, err := FindWorkspaceRoot(cwd)
	if err != nil {
		return "", err
	}
	if scope == "" {
		return wsRoot, nil
	}

	ws, err := store.OpenWorkspace(filepath.Join(wsRoot, WorkspaceMarker))
	if err != nil {
		return "", err
	}
	defer ws.Close()

	project, err := ws.GetProjectByName(scope)
	if err != nil {
		return "", err
	}
	if project == nil {
		return "", errdefs.NotFound("project", scope)
	}

	projectRoot := filepath.Join(wsRoot, project.Path)
	if !exists(filepath.Join(projectRoot, ProjectMarker)) {
		return "", errdefs.NotFound("project database for", scope)
	}
	return projectRoot, nil
}
