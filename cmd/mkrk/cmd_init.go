package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"muckrake/internal/engine"
)

var (
	initWorkspace    bool
	initProjectsDir  string
	initInbox        bool
	initNoCategories bool
	initCategories   []string
)

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Initialize a project (or, with --workspace, a workspace)",
	Long: `Creates the .mkrk project store in the current directory, or in a new
subdirectory when a name is given. Inside a workspace the name is
required and the project is created under the workspace's projects
directory and registered there.

With --workspace, creates the .mksp workspace store instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initWorkspace, "workspace", "w", false, "create a workspace instead of a project")
	initCmd.Flags().StringVar(&initProjectsDir, "projects-dir", "projects", "workspace projects directory")
	initCmd.Flags().BoolVar(&initInbox, "inbox", false, "create a workspace inbox for unsorted files")
	initCmd.Flags().BoolVar(&initNoCategories, "no-categories", false, "skip default category seeding")
	initCmd.Flags().StringArrayVar(&initCategories, "category", nil,
		"custom category spec 'pattern:level' or 'pattern:type:level' (repeatable)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if initWorkspace {
		if len(args) > 0 {
			return fmt.Errorf("--workspace does not take a name; run it inside the target directory")
		}
		err := engine.InitWorkspace(workDir, &engine.InitWorkspaceParams{
			ProjectsDir:  initProjectsDir,
			Inbox:        initInbox,
			NoCategories: initNoCategories,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Initialized workspace in %s\n", workDir)
		fmt.Fprintf(os.Stderr, "  Projects directory: %s\n", initProjectsDir)
		if initInbox {
			fmt.Fprintln(os.Stderr, "  Inbox enabled")
		}
		return nil
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	projectDir, categories, err := engine.InitProject(workDir, &engine.InitProjectParams{
		Name:             name,
		NoCategories:     initNoCategories,
		CustomCategories: initCategories,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Initialized project in %s\n", projectDir)
	if categories > 0 {
		fmt.Fprintf(os.Stderr, "  %d categories configured\n", categories)
	}
	return nil
}
