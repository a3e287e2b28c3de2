package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"muckrake/internal/discovery"
	"muckrake/internal/engine"
	"muckrake/internal/errdefs"
	"muckrake/internal/store"
)

var inboxAssignCategory string

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Manage the workspace inbox of unsorted files",
}

var inboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List inbox files",
	Args:  cobra.NoArgs,
	RunE:  runInboxList,
}

var inboxAssignCmd = &cobra.Command{
	Use:   "assign <file> <project>",
	Short: "Move an inbox file into a project and track it",
	Args:  cobra.ExactArgs(2),
	RunE:  runInboxAssign,
}

func init() {
	inboxAssignCmd.Flags().StringVar(&inboxAssignCategory, "category", "", "destination category")
	inboxCmd.AddCommand(inboxListCmd)
	inboxCmd.AddCommand(inboxAssignCmd)
	rootCmd.AddCommand(inboxCmd)
}

func inboxDir(ctx *discovery.Context) (string, error) {
	if !ctx.InWorkspace() {
		return "", errdefs.WorkspaceRequired("inbox requires a workspace")
	}
	rel, ok, err := ctx.Workspace.Store.GetConfig("inbox_dir")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errdefs.NotFound("inbox configuration in", "workspace")
	}
	return filepath.Join(ctx.Workspace.Root, rel), nil
}

func runInboxList(cmd *cobra.Command, args []string) error {
	ctx, err := discover()
	if err != nil {
		return err
	}
	defer ctx.Close()

	dir, err := inboxDir(ctx)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "Inbox is empty")
			return nil
		}
		return errdefs.IO("reading inbox", err)
	}

	var files []os.DirEntry
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e)
		}
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "Inbox is empty")
		return nil
	}

	fmt.Printf("Inbox (%d files):\n", len(files))
	for _, e := range files {
		size := ""
		if info, err := e.Info(); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		fmt.Printf("  %s %s\n", styleBold.Render(e.Name()), styleDim.Render(size))
	}
	return nil
}

func runInboxAssign(cmd *cobra.Command, args []string) error {
	fileName, projectName := args[0], args[1]

	ctx, err := discover()
	if err != nil {
		return err
	}
	defer ctx.Close()

	dir, err := inboxDir(ctx)
	if err != nil {
		return err
	}
	srcPath := filepath.Join(dir, fileName)
	if _, err := os.Stat(srcPath); os.IsNotExist(err) {
		return errdefs.NotFound("file in inbox", fileName)
	}

	project, err := ctx.Workspace.Store.GetProjectByName(projectName)
	if err != nil {
		return err
	}
	if project == nil {
		return errdefs.NotFound("project", projectName)
	}

	projRoot := filepath.Join(ctx.Workspace.Root, project.Path)
	mkrk := filepath.Join(projRoot, discovery.ProjectMarker)
	projStore, err := store.OpenProject(mkrk)
	if err != nil {
		return err
	}
	defer projStore.Close()

	destRel := fileName
	if inboxAssignCategory != "" {
		destRel = inboxAssignCategory + "/" + fileName
	}
	destPath := filepath.Join(projRoot, destRel)
	if _, err := os.Stat(destPath); err == nil {
		return errdefs.AlreadyExists("destination", destRel)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errdefs.IO("creating destination directory", err)
	}

	// Copy then delete: the inbox may live on a different volume than
	// the project, so a bare rename could fail with EXDEV.
	if err := copyFile(srcPath, destPath); err != nil {
		return err
	}
	if _, _, err := engine.TrackFile(projRoot, projStore, destPath, filepath.ToSlash(destRel)); err != nil {
		return err
	}
	if err := os.Remove(srcPath); err != nil {
		return errdefs.IO("removing inbox file", err)
	}

	fmt.Fprintf(os.Stderr, "Assigned %s to %s as %s\n", fileName, projectName, destRel)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errdefs.IO("opening "+src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errdefs.IO("creating "+dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errdefs.IO("copying to "+dst, err)
	}
	return out.Sync()
}
