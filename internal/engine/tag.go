package engine

import (
	"encoding/json"
	"path/filepath"

	"muckrake/internal/discovery"
	"muckrake/internal/ident"
	"muckrake/internal/integrity"
	"muckrake/internal/logging"
	"muckrake/internal/model"
	"muckrake/internal/refs"
	"muckrake/internal/rules"
)

// Tag applies a tag to the single file named by the reference,
// snapshotting the current content hash, then dispatches a tag rule
// event.
func Tag(ctx *discovery.Context, reference, tag, proxy string) (*model.TrackedFile, string, error) {
	projectRoot, project, err := ctx.RequireProject()
	if err != nil {
		return nil, "", err
	}
	if err := refs.ValidateName(tag); err != nil {
		return nil, "", err
	}

	resolved, err := refs.ResolveOne(reference, ctx)
	if err != nil {
		return nil, "", err
	}
	file := resolved.File

	absPath := filepath.Join(projectRoot, file.Path)
	hash, err := integrity.HashFile(absPath)
	if err != nil {
		return nil, "", err
	}

	if err := project.InsertTag(file.ID, tag, hash); err != nil {
		return nil, "", err
	}
	detail, _ := json.Marshal(map[string]string{"tag": tag})
	if err := project.InsertAudit("tag", &file.ID, ident.Whoami(), string(detail)); err != nil {
		return nil, "", err
	}

	if err := rules.Dispatch(&rules.Event{
		Kind: model.EventTag, File: &file, TagName: tag,
	}, &rules.Context{
		ProjectRoot: projectRoot, Project: project, Workspace: ctx.Workspace, Proxy: proxy,
	}, rules.NewFired()); err != nil {
		logging.Get(logging.CategoryRules).Warnw("tag rule dispatch failed", "err", err)
	}
	return &file, hash, nil
}

// Untag removes a tag from the single file named by the reference and
// dispatches an untag rule event.
func Untag(ctx *discovery.Context, reference, tag, proxy string) (*model.TrackedFile, error) {
	projectRoot, project, err := ctx.RequireProject()
	if err != nil {
		return nil, err
	}

	resolved, err := refs.ResolveOne(reference, ctx)
	if err != nil {
		return nil, err
	}
	file := resolved.File

	if err := project.RemoveTag(file.ID, tag); err != nil {
		return nil, err
	}
	detail, _ := json.Marshal(map[string]string{"tag": tag})
	if err := project.InsertAudit("untag", &file.ID, ident.Whoami(), string(detail)); err != nil {
		return nil, err
	}

	if err := rules.Dispatch(&rules.Event{
		Kind: model.EventUntag, File: &file, TagName: tag,
	}, &rules.Context{
		ProjectRoot: projectRoot, Project: project, Workspace: ctx.Workspace, Proxy: proxy,
	}, rules.NewFired()); err != nil {
		logging.Get(logging.CategoryRules).Warnw("untag rule dispatch failed", "err", err)
	}
	return &file, nil
}
