package main

import (
	"fmt"
	"os"
	"path/filepath"

	"muckrake/internal/discovery"
	"muckrake/internal/errdefs"
)

// forEachProject runs fn once per registered project when the current
// context is a bare workspace. Project-agnostic commands (ingest, list,
// verify, tags) use this so running them at the workspace root covers
// every project. Returns handled=false when
// not in a workspace-only context.
func forEachProject(fn func(ctx *discovery.Context, name string) error) (handled bool, err error) {
	ctx, err := discover()
	if err != nil {
		return false, err
	}
	if ctx.InProject() || !ctx.InWorkspace() {
		ctx.Close()
		return false, nil
	}
	defer ctx.Close()

	projects, err := ctx.Workspace.Store.ListProjects()
	if err != nil {
		return true, err
	}
	if len(projects) == 0 {
		return true, errdefs.NotFound("projects in", "workspace")
	}

	attempted, succeeded := 0, 0
	for _, proj := range projects {
		projRoot := filepath.Join(ctx.Workspace.Root, proj.Path)
		if _, statErr := os.Stat(filepath.Join(projRoot, discovery.ProjectMarker)); statErr != nil {
			continue
		}
		attempted++
		fmt.Fprintf(os.Stderr, "%s:\n", proj.Name)

		projCtx, err := discovery.Discover(projRoot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %v\n", err)
			continue
		}
		if err := fn(projCtx, proj.Name); err != nil {
			fmt.Fprintf(os.Stderr, "  %v\n", err)
		} else {
			succeeded++
		}
		projCtx.Close()
	}

	if attempted > 0 && succeeded == 0 {
		return true, fmt.Errorf("command failed for all projects")
	}
	return true, nil
}
