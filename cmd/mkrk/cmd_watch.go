package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"muckrake/internal/integrity"
	"muckrake/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the project tree and report integrity violations live",
	Long: `Monitors the project for filesystem changes and re-verifies tracked
files as they are written. Runs in the foreground until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	projCtx, err := requireProject()
	if err != nil {
		return err
	}
	defer projCtx.Close()

	watcher, err := watch.New(projCtx.ProjectRoot, projCtx.Project)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Watching %s (interrupt to stop)\n", projCtx.ProjectRoot)

	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	violations := 0
	for change := range watcher.Changes() {
		switch change.Status {
		case integrity.StatusOk:
			fmt.Fprintf(os.Stderr, "  %s %s rewritten with identical contents\n",
				styleOk.Render("ok"), change.RelPath)
		case integrity.StatusModified:
			violations++
			fmt.Fprintf(os.Stderr, "  %s %s MODIFIED\n",
				styleBad.Render("!!"), styleBad.Render(change.RelPath))
			fmt.Fprintf(os.Stderr, "     expected: %s\n", styleDim.Render(change.Result.Expected))
			fmt.Fprintf(os.Stderr, "     actual:   %s\n", styleDim.Render(change.Result.Actual))
		case integrity.StatusMissing:
			violations++
			fmt.Fprintf(os.Stderr, "  %s %s MISSING\n",
				styleWarn.Render("??"), styleWarn.Render(change.RelPath))
		}
	}

	if err := <-done; err != nil {
		return err
	}
	if violations > 0 {
		fmt.Fprintf(os.Stderr, "%d integrity violation(s) observed\n", violations)
	}
	return nil
}
