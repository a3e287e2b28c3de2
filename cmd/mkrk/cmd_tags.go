package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"muckrake/internal/discovery"
	"muckrake/internal/engine"
	"muckrake/internal/integrity"
	"muckrake/internal/model"
	"muckrake/internal/refs"
)

var tagsNoHashCheck bool

var tagCmd = &cobra.Command{
	Use:   "tag <reference> <tag>",
	Short: "Tag a file, snapshotting its current hash",
	Args:  cobra.ExactArgs(2),
	RunE:  runTag,
}

var untagCmd = &cobra.Command{
	Use:   "untag <reference> <tag>",
	Short: "Remove a tag from a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runUntag,
}

var tagsCmd = &cobra.Command{
	Use:   "tags [reference]",
	Short: "List tags, flagging stale ones",
	Long: `Without a reference, summarizes every tag in the project. With one,
lists that file's tags and checks each snapshot hash against the
current file contents; a mismatch marks the tag stale.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTags,
}

func init() {
	tagsCmd.Flags().BoolVar(&tagsNoHashCheck, "no-hash-check", false, "skip staleness detection")
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(untagCmd)
	rootCmd.AddCommand(tagsCmd)
}

func runTag(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	file, hash, err := engine.Tag(ctx, args[0], args[1], cfg.Tools.Proxy)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Tagged '%s' with '%s' (sha256: %.10s...)\n", file.Name, args[1], hash)
	return nil
}

func runUntag(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	file, err := engine.Untag(ctx, args[0], args[1], cfg.Tools.Proxy)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Removed tag '%s' from '%s'\n", args[1], file.Name)
	return nil
}

func runTags(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		handled, err := forEachProject(func(ctx *discovery.Context, name string) error {
			return printAllTags(ctx)
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

	if tagsNoHashCheck {
		fmt.Fprintln(os.Stderr,
			styleWarn.Render("warning: hash verification skipped; stale tags will not be detected"))
	}

	if len(args) == 0 {
		return printAllTags(ctx)
	}
	return printFileTags(ctx, args[0])
}

func printAllTags(ctx *discovery.Context) error {
	all, err := ctx.Project.ListAllTags()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Fprintln(os.Stderr, "No tags in project")
		return nil
	}

	counts := make(map[string]int)
	for _, ft := range all {
		counts[ft.Tag]++
	}
	names := make([]string, 0, len(counts))
	for tag := range counts {
		names = append(names, tag)
	}
	sort.Strings(names)
	for _, tag := range names {
		fmt.Printf("  %s (%d files)\n", styleAccent.Render(tag), counts[tag])
	}
	return nil
}

func printFileTags(ctx *discovery.Context, reference string) error {
	resolved, err := refs.ResolveOne(reference, ctx)
	if err != nil {
		return err
	}
	file := resolved.File

	fileTags, err := ctx.Project.GetFileTags(file.ID)
	if err != nil {
		return err
	}
	if len(fileTags) == 0 {
		fmt.Fprintf(os.Stderr, "No tags on '%s'\n", file.Name)
		return nil
	}

	fmt.Fprintf(os.Stderr, "Tags on '%s':\n", file.Name)
	for _, ft := range fileTags {
		status := ""
		if !tagsNoHashCheck {
			status = tagStatus(ctx, &ft, file.Path)
		}
		fmt.Printf("  %s%s\n", styleAccent.Render(ft.Tag), status)
	}
	return nil
}

func tagStatus(ctx *discovery.Context, ft *model.FileTag, filePath string) string {
	if ft.FileHash == "" {
		return " " + styleDim.Render("(no hash)")
	}
	absPath := filepath.Join(ctx.ProjectRoot, filePath)
	result, err := integrity.VerifyFile(absPath, ft.FileHash)
	if err != nil {
		return " " + styleBad.Render("(verify failed)")
	}
	switch result.Status {
	case integrity.StatusOk:
		return " " + styleOk.Render("ok")
	case integrity.StatusModified:
		return " " + styleWarn.Render("stale: file modified since tagging")
	case integrity.StatusMissing:
		return " " + styleBad.Render("file missing")
	}
	return ""
}
