package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"muckrake/internal/engine"
)

var (
	signPipeline string
	signGPG      bool
)

var signCmd = &cobra.Command{
	Use:   "sign <reference> <sign-name>",
	Short: "Record an approval for a file at its current hash",
	Long: `Signs the single file named by the reference. The sign name must be
required by a transition of the target pipeline; the pipeline is
resolved from attachments and must be named with --pipeline when more
than one applies. With --gpg, a detached armored signature is captured
and stored alongside the sign.`,
	Args: cobra.ExactArgs(2),
	RunE: runSign,
}

var unsignCmd = &cobra.Command{
	Use:   "unsign <reference> <sign-name>",
	Short: "Revoke the most recent active sign",
	Args:  cobra.ExactArgs(2),
	RunE:  runUnsign,
}

func init() {
	signCmd.Flags().StringVar(&signPipeline, "pipeline", "", "target pipeline")
	signCmd.Flags().BoolVar(&signGPG, "gpg", false, "attach a gpg detached signature")
	unsignCmd.Flags().StringVar(&signPipeline, "pipeline", "", "target pipeline")
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(unsignCmd)
}

func runSign(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	sign, err := engine.Sign(ctx, &engine.SignParams{
		Reference:    args[0],
		SignName:     args[1],
		PipelineName: signPipeline,
		GPG:          signGPG,
		Proxy:        cfg.Tools.Proxy,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Signed as '%s' by %s (hash %.10s...)\n",
		sign.SignName, sign.Signer, sign.FileHash)
	return nil
}

func runUnsign(cmd *cobra.Command, args []string) error {
	ctx, err := requireProject()
	if err != nil {
		return err
	}
	defer ctx.Close()

	if err := engine.Unsign(ctx, args[0], args[1], signPipeline, cfg.Tools.Proxy); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Revoked sign '%s'\n", args[1])
	return nil
}
