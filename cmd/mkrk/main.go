// Package main implements the mkrk CLI - a local-first research manager
// for investigative work: evidentiary file tracking, integrity
// verification, categorization policies, multi-signature review
// pipelines, and an event-driven rules engine.
//
// Command implementations are split across cmd_*.go files:
//
//   - cmd_init.go       - init (project and workspace)
//   - cmd_ingest.go     - ingest, track
//   - cmd_list.go       - list, status, projects
//   - cmd_verify.go     - verify
//   - cmd_tags.go       - tag, untag, tags
//   - cmd_category.go   - category add/list/remove/update, categorize
//   - cmd_pipeline.go   - pipeline add/list/remove/attach/detach, signs, state
//   - cmd_sign.go       - sign, unsign
//   - cmd_rule.go       - rule add/list/remove/enable/disable
//   - cmd_tool.go       - tool add/list/remove, view, edit, read
//   - cmd_inbox.go      - inbox list/assign
//   - cmd_watch.go      - watch
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"muckrake/internal/config"
	"muckrake/internal/discovery"
	"muckrake/internal/errdefs"
	"muckrake/internal/ident"
	"muckrake/internal/logging"
	"muckrake/internal/model"
	"muckrake/internal/rules"
)

var (
	verbose bool
	cfg     *config.Config

	// workDir is the effective working directory; a CLI scope prefix
	// (mkrk :project <cmd>) re-roots it before dispatch.
	workDir string
)

var rootCmd = &cobra.Command{
	Use:           "mkrk",
	Short:         "Local-first research manager for investigative work",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	args, scope, hasScope, err := extractScope(os.Args[1:])
	if err != nil {
		fail(err)
	}

	cfg, err = config.Load()
	if err != nil {
		fail(err)
	}
	level := cfg.Logging.Level
	for _, a := range args {
		if a == "-v" || a == "--verbose" {
			level = "debug"
		}
	}
	if err := logging.Initialize(level); err != nil {
		fail(err)
	}
	defer logging.Sync()

	workDir, err = os.Getwd()
	if err != nil {
		fail(errdefs.IO("cannot determine working directory", err))
	}

	if hasScope {
		if err := enterScope(scope, args); err != nil {
			fail(err)
		}
	}

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		fail(err)
	}
}

// extractScope strips a leading ":project" scope prefix. A bare ":" is a
// workspace reference only in reference position, never a command prefix.
func extractScope(args []string) (rest []string, scope string, hasScope bool, err error) {
	if len(args) == 0 || len(args[0]) == 0 || args[0][0] != ':' {
		return args, "", false, nil
	}
	scope = args[0][1:]
	rest = args[1:]
	if scope == "" {
		return nil, "", false, errdefs.InvalidReference(
			"bare ':' is not a command prefix; name a project (e.g. mkrk :bailey list)")
	}
	if len(rest) == 0 {
		return nil, "", false, errdefs.InvalidReference(
			"scope prefix requires a subcommand (e.g. mkrk :%s list)", scope)
	}
	return rest, scope, true, nil
}

// enterScope re-roots the working directory to the named project and
// fires its project_enter rules.
func enterScope(scope string, args []string) error {
	if len(args) > 0 && args[0] == "init" {
		return errdefs.InvalidReference("scope prefix cannot be used with 'init'")
	}

	projectRoot, err := discovery.ResolveScope(workDir, scope)
	if err != nil {
		return err
	}
	workDir = projectRoot

	ctx, err := discovery.Discover(workDir)
	if err != nil {
		return err
	}
	defer ctx.Close()
	if ctx.InProject() {
		dispatchLifecycleEvent(ctx, model.EventProjectEnter)
	}
	return nil
}

func dispatchLifecycleEvent(ctx *discovery.Context, kind model.TriggerEvent) {
	if !ctx.InProject() {
		return
	}
	err := rules.Dispatch(&rules.Event{Kind: kind}, &rules.Context{
		ProjectRoot: ctx.ProjectRoot,
		Project:     ctx.Project,
		Workspace:   ctx.Workspace,
		Proxy:       cfg.Tools.Proxy,
	}, rules.NewFired())
	if err != nil {
		logging.Get(logging.CategoryRules).Warnw("lifecycle rule dispatch failed",
			"event", kind.String(), "err", err)
	}
}

// fail prints a single short line and exits nonzero. Integrity failures
// use a distinct exit code so scripts can tell tampering from misuse.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "mkrk: %v\n", err)
	if errdefs.IsIntegrityMismatch(err) {
		os.Exit(2)
	}
	os.Exit(1)
}

// discover opens the context at the effective working directory.
func discover() (*discovery.Context, error) {
	return discovery.Discover(workDir)
}

// audit appends a project audit entry for a mutating command; failures
// are logged, not fatal.
func audit(ctx *discovery.Context, operation, detail string) {
	if !ctx.InProject() {
		return
	}
	if err := ctx.Project.InsertAudit(operation, nil, ident.Whoami(), detail); err != nil {
		logging.Get(logging.CategoryStore).Warnw("audit write failed",
			"operation", operation, "err", err)
	}
}

// requireProject discovers and unwraps a project context.
func requireProject() (*discovery.Context, error) {
	ctx, err := discover()
	if err != nil {
		return nil, err
	}
	if _, _, err := ctx.RequireProject(); err != nil {
		ctx.Close()
		return nil, err
	}
	return ctx, nil
}
