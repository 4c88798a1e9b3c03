package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/tramline/internal/server"
	"github.com/conneroisu/tramline/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:     "serve [index.html]",
	Aliases: []string{"s"},
	Short:   "Build, watch and serve the application with live reload",
	Long: `Build the application, rebuild whenever a watched file changes and serve
the output directory. Connected browsers reload after every published build
and show an overlay when a build fails.

The server also exposes:
  /_tramline/         build status page
  /_tramline/status   build status as JSON
  /metrics            Prometheus metrics

Examples:
  tramline serve                                   # Serve on 127.0.0.1:8080
  tramline serve --port 3000 --spa                 # Fall back to index.html for unknown routes
  tramline serve --proxy-backend http://localhost:9000/api/   # Forward /api/ to a backend`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addBuildFlags(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().Bool("spa", false, "Serve index.html for unknown paths")
	serveCmd.Flags().Bool("no-reload", false, "Disable live reload")
	serveCmd.Flags().Bool("open", false, "Open the site in the default browser")
	serveCmd.Flags().String("proxy-backend", "", "Backend URL to forward requests to")
	serveCmd.Flags().String("proxy-rewrite", "", "Path prefix forwarded to the backend (default: the backend's path)")

	_ = viper.BindPFlag("serve.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("serve.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("serve.spa_fallback", serveCmd.Flags().Lookup("spa"))
	_ = viper.BindPFlag("serve.no_reload", serveCmd.Flags().Lookup("no-reload"))
	_ = viper.BindPFlag("serve.open", serveCmd.Flags().Lookup("open"))
	_ = viper.BindPFlag("serve.proxy_backend", serveCmd.Flags().Lookup("proxy-backend"))
	_ = viper.BindPFlag("serve.proxy_rewrite", serveCmd.Flags().Lookup("proxy-rewrite"))
}

func runServe(cmd *cobra.Command, args []string) error {
	bindBuildFlags(cmd, args)

	a, err := newApp(viper.GetViper(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	reload := websocket.NewManager(a.allowedOrigins(), a.logger, a.recorder)
	orch := a.orchestrator(reload)

	srv, err := server.New(server.Options{
		Config:    a.config.Serve,
		Dist:      a.assembler.Dist(),
		PublicURL: a.config.Build.PublicURL,
		Status:    orch,
		Reload:    reload,
		Gatherer:  a.registry,
		Logger:    a.logger,
	})
	if err != nil {
		_ = reload.Shutdown(ctx)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	requests, err := a.watch(gctx)
	if err != nil {
		_ = reload.Shutdown(ctx)
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		return orch.Run(gctx, requests)
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s at http://%s%s\n", a.config.Build.Target, srv.Addr(), a.config.Build.PublicURL)
	return g.Wait()
}
