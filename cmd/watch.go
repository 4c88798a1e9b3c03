package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var watchCmd = &cobra.Command{
	Use:     "watch [index.html]",
	Aliases: []string{"w"},
	Short:   "Rebuild the application whenever a watched file changes",
	Long: `Build the application, then rebuild after every debounced batch of file
changes. A change that arrives while a build is running cancels it; only the
newest build publishes.

Examples:
  tramline watch                          # Watch the working directory
  tramline watch --release --dist public`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addBuildFlags(watchCmd)

	watchCmd.Flags().StringSlice("watch", nil, "Paths to watch (default: the working directory)")
	watchCmd.Flags().StringSlice("ignore", nil, "Directory names or paths to ignore")
	watchCmd.Flags().Duration("debounce", 0, "Quiet period before a rebuild (default 100ms)")
}

func bindWatchFlags(cmd *cobra.Command) {
	bindChangedFlags(cmd.Flags(), map[string]string{
		"watch":    "watch.paths",
		"ignore":   "watch.ignore",
		"debounce": "watch.debounce",
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	bindBuildFlags(cmd, args)
	bindWatchFlags(cmd)

	a, err := newApp(viper.GetViper(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	requests, err := a.watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	return a.orchestrator(nil).Run(ctx, requests)
}
