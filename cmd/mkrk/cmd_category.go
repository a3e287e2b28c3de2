package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"muckrake/internal/engine"
	"muckrake/internal/errdefs"
	"muckrake/internal/model"
)

var (
	categoryType        string
	categoryDescription string
)

var categoryCmd = &cobra.Command{
	Use:     "category",
	Aliases: []string{"cat"},
	Short:   "Manage categories and their protection policies",
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories",
	Args:  cobra.NoArgs,
	RunE:  runCategoryList,
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <pattern> <protection>",
	Short: "Add a category (protection: editable, protected, immutable)",
	Args:  cobra.ExactArgs(2),
	RunE:  runCategoryAdd,
}

var categoryUpdateCmd = &cobra.Command{
	Use:   "update <pattern> <protection>",
	Short: "Change a category's protection level",
	Args:  cobra.ExactArgs(2),
	RunE:  runCategoryUpdate,
}

var categoryRemoveCmd = &cobra.Command{
	Use:   "remove <pattern>",
	Short: "Remove a category (refused while files depend on it)",
	Args:  cobra.ExactArgs(1),
	RunE:  runCategoryRemove,
}

var categorizeCmd = &cobra.Command{
	Use:   "categorize <reference> <category>",
	Short: "Move a file into a category directory",
	Long: `Moves the single file named by the reference to <category>/<filename>.
The move is refused when the destination exists or crosses volumes. An
immutable flag is cleared for the move and the destination category's
policy is applied afterwards.`,
	Args: cobra.ExactArgs(2),
	RunE: runCategorize,
}

func init() {
	categoryAddCmd.Flags().StringVar(&categoryType, "type", "files", "category type: files, tools, inbox")
	categoryAddCmd.Flags().StringVar(&categoryDescription, "description", "", "category description")
	categoryCmd.AddCommand(categoryListCmd)
	categoryCmd.AddCommand(categoryAddCmd)
	categoryCmd.AddCommand(categoryUpdateCmd)
	categoryCmd.AddCommand(categoryRemoveCmd)
	rootCmd.AddCommand(categoryCmd)
	rootCmd.AddCommand(categorizeCmd)
}

func runCategoryList(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	categories, err := ctx.Project.ListCategories()
	if err != nil {
		return err
	}
	if len(categories) == 0 {
		fmt.Fprintln(os.Stderr, "No categories configured")
		return nil
	}

	for i := range categories {
		cat := &categories[i]
		level, err := ctx.Project.GetPolicyForCategory(cat.ID)
		if err != nil {
			return err
		}
		typeLabel := ""
		if cat.Type != model.CategoryFiles {
			typeLabel = fmt.Sprintf(" [%s]", cat.Type)
		}
		fmt.Printf("  %s %s%s\n", styleBold.Render(cat.Pattern), styleDim.Render(level.String()), typeLabel)
		if cat.Description != "" {
			fmt.Printf("    %s\n", styleDim.Render(cat.Description))
		}
	}
	return nil
}

func runCategoryAdd(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	pattern := args[0]
	level, err := model.ParseProtectionLevel(args[1])
	if err != nil {
		return errdefs.InvalidReference("%v", err)
	}
	catType, err := model.ParseCategoryType(categoryType)
	if err != nil {
		return errdefs.InvalidReference("%v", err)
	}

	if existing, err := ctx.Project.GetCategoryByPattern(pattern); err != nil {
		return err
	} else if existing != nil {
		return errdefs.AlreadyExists("category", pattern)
	}

	_, err = ctx.Project.InsertCategory(&model.Category{
		Pattern:     pattern,
		Type:        catType,
		Description: categoryDescription,
	}, level)
	if err != nil {
		return err
	}
	audit(ctx, "category_add", fmt.Sprintf(`{"pattern":%q,"protection":%q}`, pattern, level.String()))
	fmt.Fprintf(os.Stderr, "Added category '%s' (%s)\n", pattern, level)
	return nil
}

func runCategoryUpdate(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	cat, err := ctx.Project.GetCategoryByPattern(args[0])
	if err != nil {
		return err
	}
	if cat == nil {
		return errdefs.NotFound("category", args[0])
	}
	level, err := model.ParseProtectionLevel(args[1])
	if err != nil {
		return errdefs.InvalidReference("%v", err)
	}
	if err := ctx.Project.UpdateCategoryPolicy(cat.ID, level); err != nil {
		return err
	}
	audit(ctx, "category_update", fmt.Sprintf(`{"pattern":%q,"protection":%q}`, args[0], level.String()))
	fmt.Fprintf(os.Stderr, "Updated category '%s' to %s\n", args[0], level)
	return nil
}

func runCategoryRemove(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	if err := ctx.Project.RemoveCategory(args[0]); err != nil {
		return err
	}
	audit(ctx, "category_remove", fmt.Sprintf(`{"pattern":%q}`, args[0]))
	fmt.Fprintf(os.Stderr, "Removed category '%s'\n", args[0])
	return nil
}

func runCategorize(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	result, err := engine.Categorize(ctx, args[0], args[1], cfg.Tools.Proxy)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Moved: %s -> %s\n", result.OldPath, result.NewPath)
	fmt.Fprintf(os.Stderr, "  Protection: %s\n", result.Protection)
	return nil
}
