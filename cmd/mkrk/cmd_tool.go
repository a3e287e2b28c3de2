package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"muckrake/internal/discovery"
	"muckrake/internal/engine"
	"muckrake/internal/errdefs"
	"muckrake/internal/model"
	"muckrake/internal/refs"
	"muckrake/internal/store"
	"muckrake/internal/tools"
)

var toolAdd struct {
	scope     string
	tag       string
	fileType  string
	env       string
	quiet     bool
	workspace bool
}

var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Manage tool configurations",
}

var toolAddCmd = &cobra.Command{
	Use:   "add <action> <command>",
	Short: "Configure a tool for an action",
	Long: `Maps an action (view, edit, or a rule tool name) to a command. The
config is scoped to a category directory with --scope, or to a tag with
--tag; otherwise it is the default for the action. --env takes a JSON
object of environment overrides; a null value removes the variable,
which strips the proxy and requires explicit confirmation.`,
	Args: cobra.ExactArgs(2),
	RunE: runToolAdd,
}

var toolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tool configurations",
	Args:  cobra.NoArgs,
	RunE:  runToolList,
}

var toolRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a tool configuration by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runToolRemove,
}

var viewCmd = &cobra.Command{
	Use:   "view <reference>",
	Short: "View a file with its configured tool",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runFileTool(args[0], "view") },
}

var editCmd = &cobra.Command{
	Use:   "edit <reference>",
	Short: "Edit a file with its configured tool",
	Long: `Resolves the file's tool config for the edit action and runs it.
Editing a file under an Immutable policy is refused; Protected files
produce a warning first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error { return runFileTool(args[0], "edit") },
}

var readCmd = &cobra.Command{
	Use:   "read <reference>",
	Short: "Read a file in the terminal (markdown is rendered)",
	Args:  cobra.ExactArgs(1),
	RunE:  runRead,
}

func init() {
	f := toolAddCmd.Flags()
	f.StringVar(&toolAdd.scope, "scope", "", "category directory scope")
	f.StringVar(&toolAdd.tag, "tag", "", "tag scope")
	f.StringVar(&toolAdd.fileType, "ext", "*", "file extension this config applies to")
	f.StringVar(&toolAdd.env, "env", "", "JSON env overrides (null removes a variable)")
	f.BoolVar(&toolAdd.quiet, "quiet", false, "suppress the privacy notice when running")
	f.BoolVar(&toolAdd.workspace, "workspace", false, "store in the workspace instead of the project")

	toolCmd.AddCommand(toolAddCmd)
	toolCmd.AddCommand(toolListCmd)
	toolCmd.AddCommand(toolRemoveCmd)
	rootCmd.AddCommand(toolCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(readCmd)
}

func runToolAdd(cmd *cobra.Command, args []string) error {
	action, command := args[0], args[1]

	if toolAdd.env != "" {
		if err := tools.ConfirmPrivacyRemoval(command, toolAdd.env); err != nil {
			return err
		}
	}
	if toolAdd.scope != "" && toolAdd.tag != "" {
		return errdefs.InvalidReference("specify either --scope or --tag, not both")
	}

	ctx, err := discover()
	if err != nil {
		return err
	}
	defer ctx.Close()

	if toolAdd.workspace {
		if !ctx.InWorkspace() {
			return errdefs.WorkspaceRequired("--workspace requires a workspace")
		}
		return insertToolConfig(toolConfigWriter{ws: ctx.Workspace.Store}, action, command)
	}
	if _, _, err := ctx.RequireProject(); err != nil {
		return err
	}
	return insertToolConfig(toolConfigWriter{project: ctx.Project}, action, command)
}

type toolConfigWriter struct {
	project *store.ProjectStore
	ws      *store.WorkspaceStore
}

func insertToolConfig(w toolConfigWriter, action, command string) error {
	if toolAdd.tag != "" {
		c := &store.TagToolConfig{
			Tag: toolAdd.tag, Action: action, FileType: toolAdd.fileType,
			Command: command, Env: toolAdd.env, Quiet: toolAdd.quiet,
		}
		var err error
		if w.project != nil {
			_, err = w.project.InsertTagToolConfig(c)
		} else {
			_, err = w.ws.InsertTagToolConfig(c)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Configured tool for tag '%s' %s: %s\n", toolAdd.tag, action, command)
		return nil
	}

	c := &store.ToolConfig{
		Scope: toolAdd.scope, Action: action, FileType: toolAdd.fileType,
		Command: command, Env: toolAdd.env, Quiet: toolAdd.quiet,
	}
	var err error
	if w.project != nil {
		_, err = w.project.InsertToolConfig(c)
	} else {
		_, err = w.ws.InsertToolConfig(c)
	}
	if err != nil {
		return err
	}
	scope := toolAdd.scope
	if scope == "" {
		scope = "default"
	}
	fmt.Fprintf(os.Stderr, "Configured tool for %s (%s/%s): %s\n", action, scope, toolAdd.fileType, command)
	return nil
}

func runToolList(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	configs, err := ctx.Project.ListToolConfigs()
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		fmt.Fprintln(os.Stderr, "No tool configurations")
		return nil
	}
	for _, c := range configs {
		scope := c.Scope
		if scope == "" {
			scope = "default"
		}
		fmt.Printf("  #%d %s %s/%s: %s\n", c.ID, styleAccent.Render(c.Action),
			styleDim.Render(scope), c.FileType, c.Command)
	}
	return nil
}

func runToolRemove(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errdefs.InvalidReference("tool config id must be numeric, got '%s'", args[0])
	}
	if err := ctx.Project.RemoveToolConfig(id); err != nil {
		return err
	}
	audit(ctx, "tool_remove", fmt.Sprintf(`{"id":%d}`, id))
	fmt.Fprintf(os.Stderr, "Removed tool configuration #%d\n", id)
	return nil
}

func runFileTool(reference, action string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	resolved, err := refs.ResolveOne(reference, ctx)
	if err != nil {
		return err
	}
	file := resolved.File

	if action == "edit" {
		if err := checkEditProtection(ctx, file.Path); err != nil {
			return err
		}
	}

	tags, err := ctx.Project.GetTags(file.ID)
	if err != nil {
		return err
	}

	params := &tools.ExecuteParams{
		ToolName:    action,
		FileRelPath: file.Path,
		FileExt:     engine.FileExtension(file.Path),
		Tags:        tags,
		ProjectRoot: ctx.ProjectRoot,
		Project:     ctx.Project,
		Workspace:   ctx.Workspace,
		Proxy:       cfg.Tools.Proxy,
	}

	err = tools.ExecuteTool(params)
	if errdefs.IsNotFound(err) {
		// No config: fall back to the conventional pager/editor.
		fallback := tools.DefaultTool(action, cfg.Tools.Pager, cfg.Tools.Editor)
		return tools.RunCandidate(&tools.Candidate{
			Label: "default", Command: fallback, Quiet: true,
		}, params)
	}
	return err
}

func checkEditProtection(ctx *discovery.Context, relPath string) error {
	level, err := ctx.Project.ResolveProtection(relPath)
	if err != nil {
		return err
	}
	switch level {
	case model.Immutable:
		return errdefs.ProtectionViolation("immutable", "edit")
	case model.Protected:
		fmt.Fprintf(os.Stderr, "%s\n",
			styleWarn.Render("warning: '"+relPath+"' is protected; edits are discouraged"))
	}
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	resolved, err := refs.ResolveOne(args[0], ctx)
	if err != nil {
		return err
	}
	file := resolved.File
	absPath := filepath.Join(ctx.ProjectRoot, file.Path)

	// Markdown renders in the terminal; anything else falls through to
	// the view tool chain.
	if strings.EqualFold(engine.FileExtension(file.Path), "md") {
		data, err := os.ReadFile(absPath)
		if err != nil {
			return errdefs.IO("reading "+file.Path, err)
		}
		rendered, err := glamour.Render(string(data), "auto")
		if err != nil {
			fmt.Print(string(data))
			return nil
		}
		fmt.Print(rendered)
		return nil
	}
	return runFileTool(args[0], "view")
}
