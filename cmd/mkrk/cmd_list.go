package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"muckrake/internal/discovery"
	"muckrake/internal/refs"
)

var listTag string

var listCmd = &cobra.Command{
	Use:   "list [reference ...]",
	Short: "List tracked files",
	Long: `Without arguments, lists the current project's files (or, at a
workspace root, every project's files). References narrow the listing:

  mkrk list :evidence
  mkrk list ':{bailey,george}.evidence!classified/*.pdf'`,
	RunE: runList,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project or workspace status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects registered in the workspace",
	Args:  cobra.NoArgs,
	RunE:  runProjects,
}

func init() {
	listCmd.Flags().StringVarP(&listTag, "tag", "t", "", "only files carrying this tag")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(projectsCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		handled, err := forEachProject(func(ctx *discovery.Context, name string) error {
			return listProject(ctx)
		})
		if handled {
			return err
		}

		ctx, err := requireProject()
		if err != nil {
			return err
		}
		defer ctx.Close()
		return listProject(ctx)
	}

	ctx, err := discover()
	if err != nil {
		return err
	}
	defer ctx.Close()

	parsed := make([]*refs.Reference, 0, len(args))
	for _, arg := range args {
		ref, err := refs.Parse(arg)
		if err != nil {
			return err
		}
		parsed = append(parsed, ref)
	}
	coll, err := refs.Resolve(parsed, ctx)
	if err != nil {
		return err
	}

	for _, rf := range coll.Files {
		prefix := ""
		if rf.ProjectName != "" {
			prefix = styleAccent.Render(rf.ProjectName) + " "
		}
		protection := "editable"
		if rf.File.Immutable {
			protection = "immutable"
		}
		fmt.Printf("  %s%s %s [%s]\n", prefix,
			styleBold.Render(rf.File.Name), styleDim.Render(rf.File.Path), protection)
	}
	if len(coll.Files) == 0 {
		fmt.Fprintln(os.Stderr, "  (no files)")
	}
	return nil
}

func listProject(ctx *discovery.Context) error {
	var tagGroups [][]string
	if listTag != "" {
		tagGroups = [][]string{{listTag}}
	}
	files, err := ctx.Project.ListFilesFiltered("", tagGroups)
	if err != nil {
		return err
	}
	printFiles(files)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, err := discover()
	if err != nil {
		return err
	}
	defer ctx.Close()

	switch {
	case ctx.InProject():
		return printProjectStatus(ctx)
	case ctx.InWorkspace():
		return printWorkspaceStatus(ctx)
	default:
		fmt.Fprintln(os.Stderr, "Not in a mkrk project or workspace")
		fmt.Fprintln(os.Stderr, "  Run 'mkrk init' to create a project")
		fmt.Fprintln(os.Stderr, "  Run 'mkrk init --workspace' to create a workspace")
		return nil
	}
}

func printProjectStatus(ctx *discovery.Context) error {
	fmt.Fprintf(os.Stderr, "Project: %s\n", styleBold.Render(ctx.ProjectRoot))

	files, err := ctx.Project.FileCount()
	if err != nil {
		return err
	}
	categories, err := ctx.Project.CategoryCount()
	if err != nil {
		return err
	}
	tags, err := ctx.Project.TagCount()
	if err != nil {
		return err
	}
	pipelines, err := ctx.Project.PipelineCount()
	if err != nil {
		return err
	}
	signs, err := ctx.Project.SignCount()
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "  Files: %d\n", files)
	fmt.Fprintf(os.Stderr, "  Categories: %d\n", categories)
	fmt.Fprintf(os.Stderr, "  Tags: %d\n", tags)
	if pipelines > 0 {
		fmt.Fprintf(os.Stderr, "  Pipelines: %d\n", pipelines)
		fmt.Fprintf(os.Stderr, "  Active signs: %d\n", signs)
	}
	if last, err := ctx.Project.LastVerifyTime(); err == nil && last != nil {
		fmt.Fprintf(os.Stderr, "  Last verified: %s\n", last.Format("2006-01-02 15:04:05"))
	}
	if ctx.InWorkspace() {
		fmt.Fprintf(os.Stderr, "  Workspace: %s\n", ctx.Workspace.Root)
	}
	return nil
}

func printWorkspaceStatus(ctx *discovery.Context) error {
	fmt.Fprintf(os.Stderr, "Workspace: %s\n", styleBold.Render(ctx.Workspace.Root))
	count, err := ctx.Workspace.Store.ProjectCount()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "  Projects: %d\n", count)

	if inboxDir, ok, err := ctx.Workspace.Store.GetConfig("inbox_dir"); err == nil && ok {
		entries, _ := os.ReadDir(ctx.Workspace.Root + "/" + inboxDir)
		files := 0
		for _, e := range entries {
			if e.Type().IsRegular() {
				files++
			}
		}
		fmt.Fprintf(os.Stderr, "  Inbox: %d files\n", files)
	}
	return nil
}

func runProjects(cmd *cobra.Command, args []string) error {
	ctx, err := discover()
	if err != nil {
		return err
	}
	defer ctx.Close()

	if !ctx.InWorkspace() {
		fmt.Fprintln(os.Stderr, "Not in a workspace")
		return nil
	}

	projects, err := ctx.Workspace.Store.ListProjects()
	if err != nil {
		return err
	}
	for _, p := range projects {
		desc := ""
		if p.Description != "" {
			desc = "  " + styleDim.Render(p.Description)
		}
		fmt.Printf("  %s %s%s\n", styleBold.Render(p.Name), styleDim.Render(p.Path), desc)
	}
	return nil
}
