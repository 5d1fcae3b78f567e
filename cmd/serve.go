package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/packager/internal/config"
	"github.com/conneroisu/packager/internal/server"
)

// shutdownTimeout bounds how long open hot reloading clients may linger.
const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the development bundle server",
	Long: `Start the development bundle server.

Bundles are built on first request and cached until a watched file changes.
Clients can long-poll /onchange or connect to /hot to hear about changes.

Examples:
  packager serve                        # Serve the current directory on :8081
  packager serve --root app --root lib  # Serve several project roots
  packager serve -p 9000 --host 0.0.0.0 # Listen on all interfaces`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8081, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().StringSlice("root", []string{"."}, "Project root (repeatable)")
	serveCmd.Flags().StringSlice("asset-root", nil, "Asset root (repeatable, defaults to the project roots)")
	serveCmd.Flags().Int("max-connections", 0, "Maximum concurrent connections (0 means unlimited)")
	AddFlagValidation(serveCmd, "port", ValidatePort)
}

var serveBindings = map[string]string{
	"server.port":            "port",
	"server.host":            "host",
	"server.max_connections": "max-connections",
	"project.roots":          "root",
	"project.asset_roots":    "asset-root",
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := bindFlags(viper.GetViper(), cmd, serveBindings); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Packager listening on http://%s (roots: %v)\n", cfg.Addr(), cfg.Project.Roots)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return <-errCh
}
