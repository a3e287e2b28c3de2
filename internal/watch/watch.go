// Package watch monitors a project tree and re-verifies tracked files as
// they change on disk, reporting integrity violations as they happen.
// It follows the same skip-hidden rule as ingest and is a foreground
// companion to the batch verify command, not a daemon.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"muckrake/internal/errdefs"
	"muckrake/internal/integrity"
	"muckrake/internal/logging"
	"muckrake/internal/store"
)

// Change is one observed mutation of a tracked file.
type Change struct {
	RelPath string
	Status  integrity.VerifyStatus
	Result  integrity.VerifyResult
}

// Watcher re-verifies tracked files on filesystem events.
type Watcher struct {
	projectRoot string
	project     *store.ProjectStore
	fsw         *fsnotify.Watcher
	changes     chan Change
}

// New builds a watcher over every non-hidden directory of the project.
func New(projectRoot string, project *store.ProjectStore) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errdefs.IO("creating filesystem watcher", err)
	}

	w := &Watcher{
		projectRoot: projectRoot,
		project:     project,
		fsw:         fsw,
		changes:     make(chan Change, 64),
	}
	if err := w.addDirs(projectRoot); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Changes delivers verification results for mutated tracked files.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Run processes events until the context is cancelled. The changes
// channel is closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(w.changes)
		defer w.fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case event, ok := <-w.fsw.Events:
				if !ok {
					return nil
				}
				w.handleEvent(ctx, event)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return nil
				}
				logging.Get(logging.CategoryWatch).Warnw("watcher error", "err", err)
			}
		}
	})
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return
	}

	// New directories join the watch set so nested changes surface.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDirs(event.Name); err != nil {
				logging.Get(logging.CategoryWatch).Warnw("failed to watch new directory",
					"dir", event.Name, "err", err)
			}
			return
		}
	}

	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}

	rel, err := filepath.Rel(w.projectRoot, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	file, err := w.project.GetFileByPath(rel)
	if err != nil || file == nil || file.SHA256 == "" {
		return
	}

	result, err := integrity.VerifyFile(event.Name, file.SHA256)
	if err != nil {
		logging.Get(logging.CategoryWatch).Warnw("verify failed", "path", rel, "err", err)
		return
	}

	select {
	case w.changes <- Change{RelPath: rel, Status: result.Status, Result: result}:
	case <-ctx.Done():
	}
}

func (w *Watcher) addDirs(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtrees are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return errdefs.IO("watching "+path, err)
		}
		return nil
	})
}
