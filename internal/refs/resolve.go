package refs

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"muckrake/internal/discovery"
	"muckrake/internal/errdefs"
	"muckrake/internal/logging"
	"muckrake/internal/model"
	"muckrake/internal/store"
)

// ResolvedFile is one file named by a reference. ProjectName is empty for
// files in the current project.
type ResolvedFile struct {
	ProjectName string
	File        model.TrackedFile
}

// Collection is the deduplicated result of resolving references.
type Collection struct {
	Files []ResolvedFile
}

// ExpectOne unwraps a collection that must name exactly one file.
func (c *Collection) ExpectOne(refText string) (ResolvedFile, error) {
	switch len(c.Files) {
	case 0:
		return ResolvedFile{}, errdefs.NotFound("file matching reference", refText)
	case 1:
		return c.Files[0], nil
	default:
		return ResolvedFile{}, errdefs.AmbiguousMatch(refText, len(c.Files))
	}
}

// Resolve evaluates references against the discovered context and returns
// the union of their matches, deduplicated by (project, file id).
func Resolve(references []*Reference, ctx *discovery.Context) (*Collection, error) {
	coll := &Collection{}
	type key struct {
		project string
		fileID  int64
	}
	seen := make(map[key]bool)

	for _, ref := range references {
		files, err := resolveSingle(ref, ctx)
		if err != nil {
			return nil, err
		}
		for _, rf := range files {
			k := key{rf.ProjectName, rf.File.ID}
			if !seen[k] {
				seen[k] = true
				coll.Files = append(coll.Files, rf)
			}
		}
	}

	logging.Get(logging.CategoryRefs).Debugw("resolved references",
		"count", len(references), "files", len(coll.Files))
	return coll, nil
}

// ResolveOne parses and resolves a single reference that must name
// exactly one file.
func ResolveOne(refText string, ctx *discovery.Context) (ResolvedFile, error) {
	ref, err := Parse(refText)
	if err != nil {
		return ResolvedFile{}, err
	}
	coll, err := Resolve([]*Reference{ref}, ctx)
	if err != nil {
		return ResolvedFile{}, err
	}
	return coll.ExpectOne(refText)
}

func resolveSingle(ref *Reference, ctx *discovery.Context) ([]ResolvedFile, error) {
	if !ref.Structured {
		return resolveBarePath(ref.BarePath, ctx)
	}
	return resolveStructured(ref, ctx)
}

func resolveBarePath(path string, ctx *discovery.Context) ([]ResolvedFile, error) {
	if !ctx.InProject() {
		return nil, errdefs.ProjectRequired("bare path reference requires a project context")
	}

	if file, err := ctx.Project.GetFileByPath(path); err != nil {
		return nil, err
	} else if file != nil {
		return []ResolvedFile{{File: *file}}, nil
	}

	// Fall back to the filename index.
	file, err := ctx.Project.GetFileByName(path)
	if err != nil {
		return nil, err
	}
	if file != nil {
		return []ResolvedFile{{File: *file}}, nil
	}
	return nil, nil
}

func resolveStructured(ref *Reference, ctx *discovery.Context) ([]ResolvedFile, error) {
	pairs, err := expandScope(ref.Scope, ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, p := range pairs {
			p.close()
		}
	}()

	tagGroups := make([][]string, len(ref.Tags))
	for i, g := range ref.Tags {
		tagGroups[i] = g.Tags
	}

	var results []ResolvedFile
	for _, pair := range pairs {
		prefix := ""
		if pair.categoryPath != "" {
			prefix = pair.categoryPath + "/"
		}
		files, err := pair.store.ListFilesFiltered(prefix, tagGroups)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			ok, err := matchesGlob(ref, &f)
			if err != nil {
				return nil, err
			}
			if ok {
				results = append(results, ResolvedFile{ProjectName: pair.projectName, File: f})
			}
		}
	}
	return results, nil
}

func matchesGlob(ref *Reference, f *model.TrackedFile) (bool, error) {
	if !ref.HasGlob() {
		return true, nil
	}
	name := filepath.Base(f.Path)
	byName, err := doublestar.Match(ref.Glob, name)
	if err != nil {
		return false, errdefs.InvalidReference("bad glob pattern '%s': %v", ref.Glob, err)
	}
	if byName {
		return true, nil
	}
	byPath, err := doublestar.Match(ref.Glob, f.Path)
	if err != nil {
		return false, errdefs.InvalidReference("bad glob pattern '%s': %v", ref.Glob, err)
	}
	return byPath, nil
}

// scopePair is one (project, category-prefix) combination to query.
// store is borrowed from the context unless owned is set.
type scopePair struct {
	projectName  string
	categoryPath string
	store        *store.ProjectStore
	owned        bool
}

func (p *scopePair) close() {
	if p.owned && p.store != nil {
		_ = p.store.Close()
	}
}

func expandScope(scope []ScopeLevel, ctx *discovery.Context) ([]scopePair, error) {
	switch len(scope) {
	case 0:
		return expandZeroScope(ctx)
	case 1:
		return expandOneScope(scope[0], ctx)
	default:
		return expandMultiScope(scope, ctx)
	}
}

// expandZeroScope handles bare ":" - the current project, or every
// project when the context is a workspace.
func expandZeroScope(ctx *discovery.Context) ([]scopePair, error) {
	if ctx.InProject() {
		return []scopePair{{store: ctx.Project}}, nil
	}
	if ctx.InWorkspace() {
		return expandAllWorkspaceProjects(ctx.Workspace)
	}
	return nil, errdefs.ProjectRequired("not in a mkrk project or workspace")
}

// expandOneScope disambiguates ":name" by introspection priority:
// category in the current project, then workspace project, then category
// fallback (matching nothing is not an error).
func expandOneScope(level ScopeLevel, ctx *discovery.Context) ([]scopePair, error) {
	if ctx.InProject() {
		var pairs []scopePair
		for _, name := range level.Names {
			isCat, err := isCategoryInProject(ctx.Project, name)
			if err != nil {
				closeAll(pairs)
				return nil, err
			}
			switch {
			case isCat:
				pairs = append(pairs, scopePair{categoryPath: name, store: ctx.Project})
			case ctx.InWorkspace():
				db, err := openWorkspaceProject(ctx.Workspace, name)
				if err != nil {
					closeAll(pairs)
					return nil, err
				}
				pairs = append(pairs, scopePair{projectName: name, store: db, owned: true})
			default:
				pairs = append(pairs, scopePair{categoryPath: name, store: ctx.Project})
			}
		}
		return pairs, nil
	}

	if ctx.InWorkspace() {
		var pairs []scopePair
		for _, name := range level.Names {
			db, err := openWorkspaceProject(ctx.Workspace, name)
			if err != nil {
				closeAll(pairs)
				return nil, err
			}
			pairs = append(pairs, scopePair{projectName: name, store: db, owned: true})
		}
		return pairs, nil
	}

	return nil, errdefs.ProjectRequired("not in a mkrk project or workspace")
}

func expandMultiScope(scope []ScopeLevel, ctx *discovery.Context) ([]scopePair, error) {
	if ctx.InProject() {
		var pairs []scopePair
		for _, name := range scope[0].Names {
			isCat, err := isCategoryInProject(ctx.Project, name)
			if err != nil {
				closeAll(pairs)
				return nil, err
			}
			switch {
			case isCat:
				for _, path := range buildSubcategoryPaths(scope, 0) {
					pairs = append(pairs, scopePair{categoryPath: path, store: ctx.Project})
				}
			case ctx.InWorkspace():
				expanded, err := expandWorkspaceProjectCategories(scope, name, ctx.Workspace)
				if err != nil {
					closeAll(pairs)
					return nil, err
				}
				pairs = append(pairs, expanded...)
			default:
				closeAll(pairs)
				return nil, errdefs.WorkspaceRequired("cross-project reference requires a workspace")
			}
		}
		return pairs, nil
	}

	if ctx.InWorkspace() {
		var pairs []scopePair
		for _, name := range scope[0].Names {
			expanded, err := expandWorkspaceProjectCategories(scope, name, ctx.Workspace)
			if err != nil {
				closeAll(pairs)
				return nil, err
			}
			pairs = append(pairs, expanded...)
		}
		return pairs, nil
	}

	return nil, errdefs.ProjectRequired("not in a mkrk project or workspace")
}

func expandWorkspaceProjectCategories(scope []ScopeLevel, projectName string, ws *discovery.WorkspaceContext) ([]scopePair, error) {
	paths := buildSubcategoryPaths(scope, 1)
	if len(paths) == 0 {
		db, err := openWorkspaceProject(ws, projectName)
		if err != nil {
			return nil, err
		}
		return []scopePair{{projectName: projectName, store: db, owned: true}}, nil
	}

	var pairs []scopePair
	for _, path := range paths {
		db, err := openWorkspaceProject(ws, projectName)
		if err != nil {
			closeAll(pairs)
			return nil, err
		}
		pairs = append(pairs, scopePair{projectName: projectName, categoryPath: path, store: db, owned: true})
	}
	return pairs, nil
}

// buildSubcategoryPaths cross-products the brace expansions of
// scope[start:] into slash-joined subcategory paths.
func buildSubcategoryPaths(scope []ScopeLevel, start int) []string {
	if start >= len(scope) {
		return nil
	}
	paths := append([]string(nil), scope[start].Names...)
	for _, level := range scope[start+1:] {
		var expanded []string
		for _, prefix := range paths {
			for _, name := range level.Names {
				expanded = append(expanded, prefix+"/"+name)
			}
		}
		paths = expanded
	}
	return paths
}

// isCategoryInProject reports whether name names a category: a category
// whose pattern equals "name/**" or begins with "name/".
func isCategoryInProject(db *store.ProjectStore, name string) (bool, error) {
	categories, err := db.ListCategories()
	if err != nil {
		return false, err
	}
	prefix := name + "/"
	glob := name + "/**"
	for i := range categories {
		if categories[i].Pattern == glob || strings.HasPrefix(categories[i].Pattern, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func openWorkspaceProject(ws *discovery.WorkspaceContext, projectName string) (*store.ProjectStore, error) {
	project, err := ws.Store.GetProjectByName(projectName)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, errdefs.NotFound("project", projectName)
	}
	mkrk := filepath.Join(ws.Root, project.Path, discovery.ProjectMarker)
	return store.OpenProject(mkrk)
}

func expandAllWorkspaceProjects(ws *discovery.WorkspaceContext) ([]scopePair, error) {
	projects, err := ws.Store.ListProjects()
	if err != nil {
		return nil, err
	}
	var pairs []scopePair
	for _, proj := range projects {
		mkrk := filepath.Join(ws.Root, proj.Path, discovery.ProjectMarker)
		db, err := store.OpenProject(mkrk)
		if err != nil {
			if errdefs.IsNotFound(err) {
				continue // registered but not yet initialized
			}
			closeAll(pairs)
			return nil, err
		}
		pairs = append(pairs, scopePair{projectName: proj.Name, store: db, owned: true})
	}
	return pairs, nil
}

func closeAll(pairs []scopePair) {
	for _, p := range pairs {
		p.close()
	}
}
