package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"muckrake/internal/discovery"
	"muckrake/internal/engine"
	"muckrake/internal/errdefs"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [subdir]",
	Short: "Track all new files under the project (or a subdirectory)",
	Long: `Walks the project tree, skipping hidden entries, and records every
previously-untracked regular file: content hash, size, mime type,
ingest timestamp, and provenance. Files landing in an Immutable
category get the OS immutable flag when privileges permit.

At a workspace root, ingests every registered project.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

var trackCmd = &cobra.Command{
	Use:   "track <path>",
	Short: "Track a single file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrack,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(trackCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	subdir := ""
	if len(args) == 1 {
		subdir = args[0]
	}

	if subdir == "" {
		handled, err := forEachProject(func(ctx *discovery.Context, name string) error {
			return ingestInto(ctx, "")
		})
		if handled {
			return err
		}
	}

	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()
	return ingestInto(ctx, subdir)
}

func ingestInto(ctx *discovery.Context, subdir string) error {
	result, err := engine.Ingest(ctx, subdir, cfg.Tools.Proxy)
	if err != nil {
		return err
	}
	for i := range result.Tracked {
		f := &result.Tracked[i]
		fmt.Fprintf(os.Stderr, "  %s [%s]\n", f.Path, ingestLabel(ctx, f.Path, f.Immutable))
	}
	if len(result.Tracked) == 0 {
		fmt.Fprintln(os.Stderr, "No new files to ingest")
	} else {
		fmt.Fprintf(os.Stderr, "Ingested %d file(s)\n", len(result.Tracked))
	}
	if result.FlagWarnings > 0 {
		fmt.Fprintf(os.Stderr, "%d file(s) could not get the immutable flag\n", result.FlagWarnings)
	}
	return nil
}

func ingestLabel(ctx *discovery.Context, relPath string, flagSet bool) string {
	level, err := ctx.Project.ResolveProtection(relPath)
	if err != nil {
		return "unknown"
	}
	return protectionLabel(level, flagSet)
}

func runTrack(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	absPath, err := filepath.Abs(filepath.Join(workDir, args[0]))
	if err != nil {
		return errdefs.IO("resolving path", err)
	}
	rel, err := filepath.Rel(ctx.ProjectRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return errdefs.InvalidReference("path '%s' is outside the project", args[0])
	}
	rel = filepath.ToSlash(rel)

	if existing, err := ctx.Project.GetFileByPath(rel); err != nil {
		return err
	} else if existing != nil {
		return errdefs.AlreadyExists("tracked file", rel)
	}

	file, _, err := engine.TrackFile(ctx.ProjectRoot, ctx.Project, absPath, rel)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Tracked %s [%s]\n", file.Path, ingestLabel(ctx, file.Path, file.Immutable))
	return nil
}
