package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"muckrake/internal/errdefs"
	"muckrake/internal/model"
	"muckrake/internal/refs"
)

var ruleAdd struct {
	on         string
	action     string
	tool       string
	tag        string
	pipeline   string
	signName   string
	category   string
	mimeType   string
	fileType   string
	triggerTag string
	trgPipe    string
	trgSign    string
	trgState   string
	priority   int
}

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage event-driven automation rules",
}

var ruleAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a rule",
	Long: `A rule fires an action when its trigger event matches. Examples:

  mkrk rule add ocr-images --on ingest --action run-tool --tool ocr --mime 'image/*'
  mkrk rule add auto-review --on tag --trigger-tag checked \
    --action sign --pipeline editorial --sign-name editor`,
	Args: cobra.ExactArgs(1),
	RunE: runRuleAdd,
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules",
	Args:  cobra.NoArgs,
	RunE:  runRuleList,
}

var ruleRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return ruleSetOp(args[0], "remove") },
}

var ruleEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return ruleSetOp(args[0], "enable") },
}

var ruleDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return ruleSetOp(args[0], "disable") },
}

func init() {
	f := ruleAddCmd.Flags()
	f.StringVar(&ruleAdd.on, "on", "", "trigger event (required)")
	f.StringVar(&ruleAdd.action, "action", "", "action type (required)")
	f.StringVar(&ruleAdd.tool, "tool", "", "tool to run (run-tool)")
	f.StringVar(&ruleAdd.tag, "tag", "", "tag to add/remove, or attachment tag scope")
	f.StringVar(&ruleAdd.pipeline, "pipeline", "", "pipeline (sign/unsign/attach/detach)")
	f.StringVar(&ruleAdd.signName, "sign-name", "", "sign name (sign/unsign)")
	f.StringVar(&ruleAdd.category, "category", "", "filter: category name, or attachment category scope")
	f.StringVar(&ruleAdd.mimeType, "mime", "", "filter: mime type (exact, 'image/', 'image/*')")
	f.StringVar(&ruleAdd.fileType, "ext", "", "filter: file extension")
	f.StringVar(&ruleAdd.triggerTag, "trigger-tag", "", "filter: tag name on tag/untag events")
	f.StringVar(&ruleAdd.trgPipe, "trigger-pipeline", "", "filter: pipeline name on sign/state events")
	f.StringVar(&ruleAdd.trgSign, "trigger-sign", "", "filter: sign name on sign events")
	f.StringVar(&ruleAdd.trgState, "trigger-state", "", "filter: state name on state_change events")
	f.IntVar(&ruleAdd.priority, "priority", 0, "dispatch priority (higher first)")
	_ = ruleAddCmd.MarkFlagRequired("on")
	_ = ruleAddCmd.MarkFlagRequired("action")

	ruleCmd.AddCommand(ruleAddCmd)
	ruleCmd.AddCommand(ruleListCmd)
	ruleCmd.AddCommand(ruleRemoveCmd)
	ruleCmd.AddCommand(ruleEnableCmd)
	ruleCmd.AddCommand(ruleDisableCmd)
	rootCmd.AddCommand(ruleCmd)
}

func runRuleAdd(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	name := args[0]
	if err := refs.ValidateName(name); err != nil {
		return err
	}
	event, err := model.ParseTriggerEvent(ruleAdd.on)
	if err != nil {
		return errdefs.InvalidReference("%v", err)
	}
	action, err := model.ParseActionType(ruleAdd.action)
	if err != nil {
		return errdefs.InvalidReference("%v", err)
	}

	rule := &model.Rule{
		Name:         name,
		Enabled:      true,
		TriggerEvent: event,
		TriggerFilter: model.TriggerFilter{
			TagName:  ruleAdd.triggerTag,
			Category: ruleAdd.category,
			MimeType: ruleAdd.mimeType,
			FileType: ruleAdd.fileType,
			Pipeline: ruleAdd.trgPipe,
			SignName: ruleAdd.trgSign,
			State:    ruleAdd.trgState,
		},
		ActionType: action,
		ActionConfig: model.ActionConfig{
			Tool:     ruleAdd.tool,
			Tag:      ruleAdd.tag,
			Pipeline: ruleAdd.pipeline,
			SignName: ruleAdd.signName,
			Category: actionCategory(action),
		},
		Priority:  ruleAdd.priority,
		CreatedAt: time.Now(),
	}

	if _, err := ctx.Project.InsertRule(rule); err != nil {
		return err
	}
	audit(ctx, "rule_add", fmt.Sprintf(`{"rule":%q}`, name))
	fmt.Fprintf(os.Stderr, "Added rule '%s': on %s -> %s %s\n",
		name, event, action, actionTarget(&rule.ActionConfig))
	return nil
}

// actionCategory routes --category to the action config only for
// attachment actions; otherwise it is a trigger filter.
func actionCategory(action model.ActionType) string {
	if action == model.ActionAttachPipeline || action == model.ActionDetachPipeline {
		return ruleAdd.category
	}
	return ""
}

func runRuleList(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	rules, err := ctx.Project.ListRules()
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Fprintln(os.Stderr, "No rules defined")
		return nil
	}

	for i := range rules {
		r := &rules[i]
		status := styleOk.Render("on")
		if !r.Enabled {
			status = styleBad.Render("off")
		}
		fmt.Printf("  [%s] %s (p%d) : %s %s-> %s %s\n",
			status, styleAccent.Render(r.Name), r.Priority,
			r.TriggerEvent, formatFilter(&r.TriggerFilter),
			r.ActionType, actionTarget(&r.ActionConfig))
	}
	return nil
}

func ruleSetOp(name, op string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	switch op {
	case "remove":
		err = ctx.Project.RemoveRule(name)
	case "enable":
		err = ctx.Project.SetRuleEnabled(name, true)
	case "disable":
		err = ctx.Project.SetRuleEnabled(name, false)
	}
	if err != nil {
		return err
	}
	audit(ctx, "rule_"+op, fmt.Sprintf(`{"rule":%q}`, name))
	fmt.Fprintf(os.Stderr, "Rule '%s' %sd\n", name, op)
	return nil
}

func actionTarget(config *model.ActionConfig) string {
	switch {
	case config.Tool != "":
		return config.Tool
	case config.Pipeline != "" && config.SignName != "":
		return config.Pipeline + "/" + config.SignName
	case config.Pipeline != "":
		return config.Pipeline
	case config.Tag != "":
		return "'" + config.Tag + "'"
	}
	return ""
}

func formatFilter(filter *model.TriggerFilter) string {
	if filter.Empty() {
		return ""
	}
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+value)
		}
	}
	add("cat", filter.Category)
	add("tag", filter.TagName)
	add("mime", filter.MimeType)
	add("ext", filter.FileType)
	add("pipeline", filter.Pipeline)
	add("sign", filter.SignName)
	add("state", filter.State)
	return "[" + strings.Join(parts, ", ") + "] "
}
