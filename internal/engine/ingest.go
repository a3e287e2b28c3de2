package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"muckrake/internal/discovery"
	"muckrake/internal/errdefs"
	"muckrake/internal/ident"
	"muckrake/internal/integrity"
	"muckrake/internal/logging"
	"muckrake/internal/model"
	"muckrake/internal/rules"
)

// IngestResult summarizes a directory scan.
type IngestResult struct {
	Tracked []model.TrackedFile
	// FlagWarnings counts files whose Immutable policy could not be
	// enforced because setting the OS flag failed.
	FlagWarnings int
}

// Ingest walks the tree from scanSubdir (project-root-relative; empty
// means the whole project), skipping hidden entries, and tracks every
// previously-untracked regular file. Each new file dispatches an ingest
// rule event under its own fired set.
func Ingest(ctx *discovery.Context, scanSubdir, proxy string) (*IngestResult, error) {
	projectRoot, project, err := ctx.RequireProject()
	if err != nil {
		return nil, err
	}

	scanDir := projectRoot
	if scanSubdir != "" {
		if strings.HasPrefix(scanSubdir, ":") {
			return nil, errdefs.InvalidReference(
				"ingest scans the current project; cross-project references are not supported")
		}
		scanDir = filepath.Join(projectRoot, strings.ReplaceAll(scanSubdir, ".", "/"))
	}
	if _, err := os.Stat(scanDir); os.IsNotExist(err) {
		return nil, errdefs.NotFound("directory", scanDir)
	}

	result := &IngestResult{}
	ruleCtx := &rules.Context{
		ProjectRoot: projectRoot, Project: project, Workspace: ctx.Workspace, Proxy: proxy,
	}

	err = filepath.WalkDir(scanDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return errdefs.IO("walking "+path, err)
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() && path != scanDir {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(projectRoot, path)
		if err != nil {
			return errdefs.IO("relativizing "+path, err)
		}
		rel = filepath.ToSlash(rel)

		existing, err := project.GetFileByPath(rel)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		file, flagDenied, err := TrackFile(projectRoot, project, path, rel)
		if err != nil {
			return err
		}
		if flagDenied {
			result.FlagWarnings++
		}
		result.Tracked = append(result.Tracked, *file)

		// Each new file is its own logical event for rule dispatch.
		if err := rules.Dispatch(&rules.Event{
			Kind: model.EventIngest, File: file,
		}, ruleCtx, rules.NewFired()); err != nil {
			logging.Get(logging.CategoryRules).Warnw("ingest rule dispatch failed",
				"file", rel, "err", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TrackFile records one on-disk file in the project store: content hash,
// size, extension-derived mime, fingerprint, provenance, and the
// protection policy of its resolved category. flagDenied reports that an
// Immutable policy could not set the OS flag; the stored immutable column
// reflects what actually happened.
func TrackFile(projectRoot string, project ProjectStore, absPath, relPath string) (*model.TrackedFile, bool, error) {
	hash, err := integrity.HashFile(absPath)
	if err != nil {
		return nil, false, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, false, errdefs.IO("stat "+absPath, err)
	}

	protection, err := project.ResolveProtection(relPath)
	if err != nil {
		return nil, false, err
	}

	isImmutable, flagDenied := trySetImmutable(absPath, protection)

	provenance, _ := json.Marshal(map[string]string{
		"method":    "ingest",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})

	file := &model.TrackedFile{
		Name:        filepath.Base(absPath),
		Path:        relPath,
		SHA256:      hash,
		Fingerprint: uuid.NewString(),
		MimeType:    GuessMime(filepath.Base(absPath)),
		Size:        info.Size(),
		IngestedAt:  time.Now(),
		Provenance:  string(provenance),
		Immutable:   isImmutable,
	}

	id, err := project.InsertFile(file)
	if err != nil {
		return nil, false, err
	}
	file.ID = id

	if err := project.InsertAudit("ingest", &id, ident.Whoami(), ""); err != nil {
		return nil, false, err
	}

	logging.Get(logging.CategoryIntegrity).Debugw("tracked file",
		"path", relPath, "protection", protection.String(), "immutable", isImmutable)
	return file, flagDenied, nil
}

// trySetImmutable enforces an Immutable policy best-effort. Privilege
// failures are warnings, not errors; the caller records immutable=false.
func trySetImmutable(absPath string, protection model.ProtectionLevel) (set, denied bool) {
	if protection != model.Immutable {
		return false, false
	}
	if err := integrity.SetImmutable(absPath); err != nil {
		if errdefs.IsPrivilegeDenied(err) {
			fmt.Fprintf(os.Stderr, "warning: could not set immutable flag on %s: %v\n", absPath, err)
			return false, true
		}
		fmt.Fprintf(os.Stderr, "warning: could not set immutable flag on %s: %v\n", absPath, err)
		return false, true
	}
	return true, false
}

// ProjectStore is the slice of the store the tracking path needs;
// narrowed for testability.
type ProjectStore interface {
	ResolveProtection(relPath string) (model.ProtectionLevel, error)
	InsertFile(f *model.TrackedFile) (int64, error)
	InsertAudit(operation string, fileID *int64, user, detail string) error
}
