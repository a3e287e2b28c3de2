package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"muckrake/internal/discovery"
	"muckrake/internal/errdefs"
	"muckrake/internal/ident"
	"muckrake/internal/integrity"
	"muckrake/internal/logging"
	"muckrake/internal/model"
	"muckrake/internal/refs"
	"muckrake/internal/rules"
)

// CategorizeResult reports where a file landed and the protection now
// governing it.
type CategorizeResult struct {
	OldPath    string
	NewPath    string
	Protection model.ProtectionLevel
}

// Categorize moves the single file named by reference to
// <category>/<filename>. The move is refused across volumes; an
// Immutable flag is cleared before the rename and re-evaluated at the
// destination. Dispatches a categorize rule event on success.
func Categorize(ctx *discovery.Context, reference, category, proxy string) (*CategorizeResult, error) {
	projectRoot, project, err := ctx.RequireProject()
	if err != nil {
		return nil, err
	}

	resolved, err := refs.ResolveOne(reference, ctx)
	if err != nil {
		return nil, err
	}
	if resolved.ProjectName != "" {
		return nil, errdefs.InvalidReference(
			"categorize operates on the current project; reference resolved into project '%s'",
			resolved.ProjectName)
	}
	file := resolved.File

	newRelPath := category + "/" + file.Name
	oldPath := filepath.Join(projectRoot, file.Path)
	newPath := filepath.Join(projectRoot, newRelPath)

	if _, err := os.Stat(oldPath); os.IsNotExist(err) {
		return nil, errdefs.NotFound("file on disk", file.Path)
	}
	if _, err := os.Stat(newPath); err == nil {
		return nil, errdefs.AlreadyExists("destination", newRelPath)
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return nil, errdefs.IO("creating destination directory", err)
	}

	if file.Immutable {
		if err := integrity.ClearImmutable(oldPath); err != nil && !errdefs.IsPrivilegeDenied(err) {
			return nil, err
		}
	}

	if err := renameSameVolume(oldPath, newPath); err != nil {
		return nil, err
	}
	if err := project.UpdateFilePath(file.ID, newRelPath); err != nil {
		return nil, err
	}

	protection, err := applyProtection(project, file.ID, newRelPath, newPath)
	if err != nil {
		return nil, err
	}

	detail, _ := json.Marshal(map[string]string{"from": file.Path, "to": newRelPath})
	if err := project.InsertAudit("categorize", &file.ID, ident.Whoami(), string(detail)); err != nil {
		return nil, err
	}

	moved := file
	moved.Path = newRelPath
	moved.Immutable = protection == model.Immutable
	if err := rules.Dispatch(&rules.Event{
		Kind: model.EventCategorize, File: &moved,
	}, &rules.Context{
		ProjectRoot: projectRoot, Project: project, Workspace: ctx.Workspace, Proxy: proxy,
	}, rules.NewFired()); err != nil {
		logging.Get(logging.CategoryRules).Warnw("categorize rule dispatch failed", "err", err)
	}

	return &CategorizeResult{
		OldPath:    file.Path,
		NewPath:    newRelPath,
		Protection: protection,
	}, nil
}

// applyProtection re-evaluates the destination's policy: an Immutable
// category sets the flag (best effort), anything else records false.
func applyProtection(project interface {
	ResolveProtection(string) (model.ProtectionLevel, error)
	UpdateFileImmutable(int64, bool) error
}, fileID int64, relPath, absPath string) (model.ProtectionLevel, error) {
	protection, err := project.ResolveProtection(relPath)
	if err != nil {
		return model.Editable, err
	}
	if protection != model.Immutable {
		return protection, project.UpdateFileImmutable(fileID, false)
	}

	if err := integrity.SetImmutable(absPath); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not set immutable flag: %v\n", err)
		return protection, project.UpdateFileImmutable(fileID, false)
	}
	return protection, project.UpdateFileImmutable(fileID, true)
}

// renameSameVolume renames, surfacing EXDEV as the distinct CrossDevice
// failure class instead of a generic IO error.
func renameSameVolume(from, to string) error {
	err := os.Rename(from, to)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		return errdefs.CrossDevice(from, to)
	}
	return errdefs.IO(fmt.Sprintf("renaming %s", from), err)
}
