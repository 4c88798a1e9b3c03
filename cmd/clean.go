package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/tramline/internal/pipeline"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the output directory and stale staging directories",
	Long: `Remove the output directory together with any staging directories left
behind by interrupted builds.

Examples:
  tramline clean                # Remove dist/
  tramline clean --cargo        # Also run cargo clean`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().StringP("dist", "d", "", "Output directory (default dist)")
	cleanCmd.Flags().Bool("cargo", false, "Also run cargo clean")
}

func runClean(cmd *cobra.Command, args []string) error {
	bindChangedFlags(cmd.Flags(), map[string]string{"dist": "build.dist"})

	a, err := newApp(viper.GetViper(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if err := a.assembler.Clean(); err != nil {
		return fmt.Errorf("failed to clean %s: %w", a.assembler.Dist(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", a.assembler.Dist())

	cargo, _ := cmd.Flags().GetBool("cargo")
	if !cargo {
		return nil
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	p, err := pipeline.RunProcess(ctx, pipeline.Command{
		Name: a.config.Build.Cargo,
		Args: []string{"clean"},
		Dir:  filepath.Dir(a.config.Build.Target),
	})
	if err != nil {
		if p != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), p.Diagnostics())
		}
		return fmt.Errorf("cargo clean failed: %w", err)
	}
	return nil
}
