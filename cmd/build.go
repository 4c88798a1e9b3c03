package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var buildCmd = &cobra.Command{
	Use:     "build [index.html]",
	Aliases: []string{"b"},
	Short:   "Build the application into the output directory",
	Long: `Parse the HTML template, run every asset pipeline and publish the
rewritten document with its content-hashed artifacts.

The output directory is replaced atomically: on failure it is left exactly
as it was and the build's diagnostics are printed.

Examples:
  tramline build                   # Build index.html into dist/
  tramline build --release         # Build in release mode
  tramline build app/index.html --dist public --public-url /app/`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
}

// addBuildFlags registers the flags shared by every command that builds.
func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("release", false, "Build in release mode")
	cmd.Flags().StringP("dist", "d", "", "Output directory (default dist)")
	cmd.Flags().String("public-url", "", "Public URL the application is served from (default /)")
	cmd.Flags().Int("workers", 0, "Maximum concurrent pipelines")
}

// bindBuildFlags binds the build flags of the running command. Flags are
// bound at run time since several commands define the same names.
func bindBuildFlags(cmd *cobra.Command, args []string) {
	bindChangedFlags(cmd.Flags(), map[string]string{
		"release":    "build.release",
		"dist":       "build.dist",
		"public-url": "build.public_url",
		"workers":    "build.workers",
	})
	if len(args) > 0 {
		viper.Set("build.target", args[0])
	}
}

// bindChangedFlags binds every flag in keys that was set on the command
// line to its configuration key. Unset flags leave file, environment and
// default values in place.
func bindChangedFlags(flags *pflag.FlagSet, keys map[string]string) {
	flags.Visit(func(f *pflag.Flag) {
		if key, ok := keys[f.Name]; ok {
			_ = viper.BindPFlag(key, f)
		}
	})
}

func runBuild(cmd *cobra.Command, args []string) error {
	bindBuildFlags(cmd, args)

	a, err := newApp(viper.GetViper(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	orch := a.orchestrator(nil)
	if err := orch.BuildOnce(ctx); err != nil {
		printDiagnostics(cmd.ErrOrStderr(), err)
		return fmt.Errorf("build failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Built %s into %s\n", a.config.Build.Target, a.assembler.Dist())
	return nil
}
