package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"muckrake/internal/integrity"
	"muckrake/internal/model"
	"muckrake/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setupWatched(t *testing.T) (string, *store.ProjectStore) {
	t.Helper()
	dir := t.TempDir()
	project, err := store.CreateProject(filepath.Join(dir, ".mkrk"))
	require.NoError(t, err)
	t.Cleanup(func() { project.Close() })
	return dir, project
}

func track(t *testing.T, dir string, project *store.ProjectStore, relPath string, content []byte) {
	t.Helper()
	abs := filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, content, 0o644))
	hash, err := integrity.HashFile(abs)
	require.NoError(t, err)
	_, err = project.InsertFile(&model.TrackedFile{
		Name: filepath.Base(relPath), Path: relPath, SHA256: hash,
		Size: int64(len(content)), IngestedAt: time.Now(),
	})
	require.NoError(t, err)
}

func waitForChange(t *testing.T, w *Watcher, relPath string) Change {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case change := <-w.Changes():
			if change.RelPath == relPath {
				return change
			}
		case <-deadline:
			t.Fatalf("no change observed for %s", relPath)
		}
	}
}

func TestWatcherReportsModification(t *testing.T) {
	dir, project := setupWatched(t)
	track(t, dir, project, "evidence/a.txt", []byte("original"))

	w, err := New(dir, project)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a beat to register before mutating.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "evidence/a.txt"), []byte("tampered"), 0o644))

	change := waitForChange(t, w, "evidence/a.txt")
	assert.Equal(t, integrity.StatusModified, change.Status)
	assert.NotEmpty(t, change.Result.Actual)

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherIgnoresUntrackedAndHidden(t *testing.T) {
	dir, project := setupWatched(t)
	track(t, dir, project, "evidence/a.txt", []byte("original"))

	w, err := New(dir, project)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	// Untracked and dotfile writes should produce no change events.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "untracked.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))

	select {
	case change, ok := <-w.Changes():
		if ok {
			t.Fatalf("unexpected change: %+v", change)
		}
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherUnmodifiedWriteReportsOk(t *testing.T) {
	dir, project := setupWatched(t)
	track(t, dir, project, "a.txt", []byte("same"))

	w, err := New(dir, project)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("same"), 0o644))

	change := waitForChange(t, w, "a.txt")
	assert.Equal(t, integrity.StatusOk, change.Status)

	cancel()
	require.NoError(t, <-done)
}
