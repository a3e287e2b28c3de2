package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"muckrake/internal/discovery"
	"muckrake/internal/engine"
	"muckrake/internal/errdefs"
	"muckrake/internal/integrity"
	"muckrake/internal/model"
	"muckrake/internal/refs"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [reference]",
	Short: "Verify tracked files against their recorded hashes",
	Long: `Recomputes each file's SHA-256 and compares it with the hash recorded
at ingest. Exit status is nonzero when any file is modified or missing.
At a workspace root without a reference, verifies every project.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		var anyFailed bool
		handled, err := forEachProject(func(ctx *discovery.Context, name string) error {
			counts, err := verifyProject(ctx, "")
			if err != nil {
				return err
			}
			if counts.Failed() {
				anyFailed = true
			}
			return nil
		})
		if handled {
			if err != nil {
				return err
			}
			if anyFailed {
				return &errdefs.Error{Kind: errdefs.KindIntegrityMismatch, Msg: "integrity check failed"}
			}
			return nil
		}
	}

	reference := ""
	if len(args) == 1 {
		reference = args[0]
	}

	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	counts, err := verifyProject(ctx, reference)
	if err != nil {
		return err
	}
	return engine.VerifyError(counts)
}

func verifyProject(ctx *discovery.Context, reference string) (engine.VerifyCounts, error) {
	var files []model.TrackedFile
	if reference != "" {
		ref, err := refs.Parse(reference)
		if err != nil {
			return engine.VerifyCounts{}, err
		}
		coll, err := refs.Resolve([]*refs.Reference{ref}, ctx)
		if err != nil {
			return engine.VerifyCounts{}, err
		}
		if len(coll.Files) == 0 {
			return engine.VerifyCounts{}, errdefs.NotFound("file matching reference", reference)
		}
		for _, rf := range coll.Files {
			if rf.ProjectName != "" {
				return engine.VerifyCounts{}, errdefs.InvalidReference(
					"verify operates on the current project")
			}
			files = append(files, rf.File)
		}
	} else {
		var err error
		files, err = ctx.Project.ListFiles("")
		if err != nil {
			return engine.VerifyCounts{}, err
		}
	}

	outcomes, counts, err := engine.VerifyFiles(ctx.ProjectRoot, ctx.Project, files)
	if err != nil {
		return counts, err
	}

	for _, o := range outcomes {
		printVerifyOutcome(&o)
	}
	fmt.Fprintf(os.Stderr, "\nVerified: %d ok, %d modified, %d missing, %d skipped\n",
		counts.Ok, counts.Modified, counts.Missing, counts.Skipped)
	return counts, nil
}

func printVerifyOutcome(o *engine.VerifyOutcome) {
	switch {
	case o.Skipped:
		fmt.Fprintf(os.Stderr, "  %s %s (no hash recorded)\n", styleDim.Render("-"), o.File.Path)
	case o.Result.Status == integrity.StatusOk:
		fmt.Fprintf(os.Stderr, "  %s %s\n", styleOk.Render("ok"), o.File.Path)
	case o.Result.Status == integrity.StatusModified:
		fmt.Fprintf(os.Stderr, "  %s %s MODIFIED\n", styleBad.Render("!!"), styleBad.Render(o.File.Path))
		fmt.Fprintf(os.Stderr, "     expected: %s\n", styleDim.Render(o.Result.Expected))
		fmt.Fprintf(os.Stderr, "     actual:   %s\n", styleDim.Render(o.Result.Actual))
	case o.Result.Status == integrity.StatusMissing:
		fmt.Fprintf(os.Stderr, "  %s %s MISSING\n", styleWarn.Render("??"), styleWarn.Render(o.File.Path))
	}
	if o.FlagRemoved {
		fmt.Fprintf(os.Stderr, "  %s %s immutable flag removed\n", styleWarn.Render("!"), o.File.Path)
	}
}
