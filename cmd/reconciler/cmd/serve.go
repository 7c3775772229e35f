package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reconcileflow/cmd/reconciler/config"
	"reconcileflow/internal/api"
)

const shutdownTimeout = 10 * time.Second

// serveCmd starts the read API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run store over a read-only HTTP JSON API",
	Long: `Serve exposes stored runs, matches, exceptions and candidate pairs.

Endpoints:
  GET /health
  GET /api/runs?limit=
  GET /api/runs/latest
  GET /api/runs/{id}
  GET /api/runs/{id}/matches
  GET /api/runs/{id}/exceptions?kind=UNMATCHED_INVOICE|UNMATCHED_TRANSACTION
  GET /api/runs/{id}/candidates?invoice_id=

Examples:
  reconciler serve
  reconciler serve --port 9090 --db data/recon.sqlite`,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", api.DefaultConfig().Port, "TCP port to listen on")
	viper.BindPFlag(config.KeyServerPort, serveCmd.Flags().Lookup("port"))
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	server := api.NewServer(cfg.APIConfig(), repo, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
