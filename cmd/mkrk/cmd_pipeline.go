package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"muckrake/internal/discovery"
	"muckrake/internal/engine"
	"muckrake/internal/errdefs"
	"muckrake/internal/model"
	"muckrake/internal/refs"
)

var (
	pipelineTransitions string
	attachCategory      string
	attachTag           string
	statePipeline       string
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Manage multi-signature review pipelines",
}

var pipelineAddCmd = &cobra.Command{
	Use:   "add <name> <state,state,...>",
	Short: "Add a pipeline",
	Long: `States are ordered; the first is the initial state. By default each
later state requires one sign named after itself. --transitions takes a
JSON object mapping states to required sign lists:

  mkrk pipeline add editorial draft,reviewed,published \
    --transitions '{"reviewed":["editor","legal"],"published":["publisher"]}'`,
	Args: cobra.ExactArgs(2),
	RunE: runPipelineAdd,
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipelines and their attachments",
	Args:  cobra.NoArgs,
	RunE:  runPipelineList,
}

var pipelineRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a pipeline (attachments and signs cascade)",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipelineRemove,
}

var pipelineAttachCmd = &cobra.Command{
	Use:   "attach <name>",
	Short: "Attach a pipeline to a category or tag",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipelineAttach,
}

var pipelineDetachCmd = &cobra.Command{
	Use:   "detach <name>",
	Short: "Detach a pipeline from a category or tag",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipelineDetach,
}

var signsCmd = &cobra.Command{
	Use:   "signs [reference]",
	Short: "List signs with their validity",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSigns,
}

var stateCmd = &cobra.Command{
	Use:   "state [reference]",
	Short: "Show derived pipeline state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runState,
}

func init() {
	pipelineAddCmd.Flags().StringVar(&pipelineTransitions, "transitions", "",
		"JSON transitions map (default: one sign per state)")
	pipelineAttachCmd.Flags().StringVar(&attachCategory, "category", "", "category scope")
	pipelineAttachCmd.Flags().StringVar(&attachTag, "tag", "", "tag scope")
	pipelineDetachCmd.Flags().StringVar(&attachCategory, "category", "", "category scope")
	pipelineDetachCmd.Flags().StringVar(&attachTag, "tag", "", "tag scope")
	stateCmd.Flags().StringVar(&statePipeline, "pipeline", "", "limit to one pipeline")

	pipelineCmd.AddCommand(pipelineAddCmd)
	pipelineCmd.AddCommand(pipelineListCmd)
	pipelineCmd.AddCommand(pipelineRemoveCmd)
	pipelineCmd.AddCommand(pipelineAttachCmd)
	pipelineCmd.AddCommand(pipelineDetachCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(signsCmd)
	rootCmd.AddCommand(stateCmd)
}

func runPipelineAdd(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	name := args[0]
	if err := refs.ValidateName(name); err != nil {
		return err
	}
	if existing, err := ctx.Project.GetPipelineByName(name); err != nil {
		return err
	} else if existing != nil {
		return errdefs.AlreadyExists("pipeline", name)
	}

	var states []string
	for _, s := range strings.Split(args[1], ",") {
		states = append(states, strings.TrimSpace(s))
	}

	transitions := model.DefaultTransitions(states)
	if pipelineTransitions != "" {
		transitions = nil
		if err := json.Unmarshal([]byte(pipelineTransitions), &transitions); err != nil {
			return errdefs.InvalidPipeline("invalid transitions JSON: %v", err)
		}
	}

	p := &model.Pipeline{Name: name, States: states, Transitions: transitions}
	if _, err := ctx.Project.InsertPipeline(p); err != nil {
		return err
	}
	audit(ctx, "pipeline_add", fmt.Sprintf(`{"pipeline":%q}`, name))
	fmt.Fprintf(os.Stderr, "Added pipeline '%s' (%s)\n", name, strings.Join(states, " -> "))
	return nil
}

func runPipelineList(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	pipelines, err := ctx.Project.ListPipelines()
	if err != nil {
		return err
	}
	if len(pipelines) == 0 {
		fmt.Fprintln(os.Stderr, "No pipelines configured")
		return nil
	}

	for i := range pipelines {
		p := &pipelines[i]
		fmt.Printf("  %s %s\n", styleBold.Render(p.Name), styleDim.Render(strings.Join(p.States, " -> ")))
		attachments, err := ctx.Project.ListAttachments(p.ID)
		if err != nil {
			return err
		}
		for _, att := range attachments {
			fmt.Printf("    %s %s\n", styleAccent.Render(att.ScopeType.String()), att.ScopeValue)
		}
	}
	return nil
}

func runPipelineRemove(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	if err := ctx.Project.RemovePipeline(args[0]); err != nil {
		return err
	}
	audit(ctx, "pipeline_remove", fmt.Sprintf(`{"pipeline":%q}`, args[0]))
	fmt.Fprintf(os.Stderr, "Removed pipeline '%s'\n", args[0])
	return nil
}

func attachmentScopeArgs() (model.AttachmentScope, string, error) {
	switch {
	case attachCategory != "" && attachTag != "":
		return 0, "", errdefs.InvalidReference("specify either --category or --tag, not both")
	case attachCategory != "":
		return model.ScopeCategory, attachCategory, nil
	case attachTag != "":
		return model.ScopeTag, attachTag, nil
	default:
		return 0, "", errdefs.InvalidReference("specify --category or --tag")
	}
}

func runPipelineAttach(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	scope, value, err := attachmentScopeArgs()
	if err != nil {
		return err
	}
	p, err := ctx.Project.GetPipelineByName(args[0])
	if err != nil {
		return err
	}
	if p == nil {
		return errdefs.NotFound("pipeline", args[0])
	}
	if err := ctx.Project.AttachPipeline(p.ID, scope, value); err != nil {
		return err
	}
	audit(ctx, "pipeline_attach", fmt.Sprintf(`{"pipeline":%q,"scope":%q,"value":%q}`, args[0], scope.String(), value))
	fmt.Fprintf(os.Stderr, "Attached pipeline '%s' to %s '%s'\n", args[0], scope, value)
	return nil
}

func runPipelineDetach(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	scope, value, err := attachmentScopeArgs()
	if err != nil {
		return err
	}
	p, err := ctx.Project.GetPipelineByName(args[0])
	if err != nil {
		return err
	}
	if p == nil {
		return errdefs.NotFound("pipeline", args[0])
	}
	n, err := ctx.Project.DetachPipeline(p.ID, scope, value)
	if err != nil {
		return err
	}
	if n == 0 {
		return errdefs.NotFound(
			fmt.Sprintf("attachment of '%s' to %s", args[0], scope), value)
	}
	audit(ctx, "pipeline_detach", fmt.Sprintf(`{"pipeline":%q,"scope":%q,"value":%q}`, args[0], scope.String(), value))
	fmt.Fprintf(os.Stderr, "Detached pipeline '%s' from %s '%s'\n", args[0], scope, value)
	return nil
}

func resolveFilesOrAll(ctx *discovery.Context, args []string) ([]model.TrackedFile, error) {
	if len(args) == 0 {
		return ctx.Project.ListFiles("")
	}
	ref, err := refs.Parse(args[0])
	if err != nil {
		return nil, err
	}
	coll, err := refs.Resolve([]*refs.Reference{ref}, ctx)
	if err != nil {
		return nil, err
	}
	var files []model.TrackedFile
	for _, rf := range coll.Files {
		if rf.ProjectName == "" {
			files = append(files, rf.File)
		}
	}
	return files, nil
}

func runSigns(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	files, err := resolveFilesOrAll(ctx, args)
	if err != nil {
		return err
	}

	pipelineNames := make(map[int64]string)
	pipelines, err := ctx.Project.ListPipelines()
	if err != nil {
		return err
	}
	for i := range pipelines {
		pipelineNames[pipelines[i].ID] = pipelines[i].Name
	}

	anySigns := false
	for i := range files {
		file := &files[i]
		signs, err := ctx.Project.GetSignsForFile(file.ID)
		if err != nil {
			return err
		}
		if len(signs) == 0 {
			continue
		}
		anySigns = true

		fmt.Println(styleBold.Render(file.Path))
		for j := range signs {
			s := &signs[j]
			status := styleOk.Render("valid")
			switch {
			case s.RevokedAt != nil:
				status = styleBad.Render("revoked")
			case s.FileHash != file.SHA256:
				status = styleWarn.Render("stale")
			}
			name := pipelineNames[s.PipelineID]
			if name == "" {
				name = fmt.Sprintf("pipeline:%d", s.PipelineID)
			}
			fmt.Printf("  %s %s by %s at %s [%s]\n",
				styleAccent.Render(s.SignName), styleDim.Render(name),
				s.Signer, styleDim.Render(s.SignedAt.Format("2006-01-02 15:04:05")), status)
		}
	}
	if !anySigns {
		fmt.Fprintln(os.Stderr, "No signs found")
	}
	return nil
}

func runState(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	files, err := resolveFilesOrAll(ctx, args)
	if err != nil {
		return err
	}

	anyState := false
	for i := range files {
		file := &files[i]
		pipelines, err := engine.ApplicablePipelines(ctx.Project, file, statePipeline)
		if err != nil {
			return err
		}
		if len(pipelines) == 0 {
			continue
		}
		anyState = true

		fmt.Println(styleBold.Render(file.Path))
		for j := range pipelines {
			p := &pipelines[j]
			state, err := engine.FileState(ctx.ProjectRoot, ctx.Project, file, p)
			if err != nil {
				return err
			}
			line := fmt.Sprintf("  %s: %s",
				styleAccent.Render(p.Name), styleBold.Render(state.CurrentState))
			if len(state.StaleSigns) > 0 {
				line += " " + styleWarn.Render(
					fmt.Sprintf("(stale: %s)", strings.Join(state.StaleSigns, ", ")))
			}
			fmt.Println(line)
		}
	}
	if !anyState {
		fmt.Fprintln(os.Stderr, "No pipeline state for the given reference")
	}
	return nil
}
