package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/proofls/proofls/errors"
	"github.com/proofls/proofls/internal/config"
	"github.com/proofls/proofls/logger"
	"github.com/proofls/proofls/lspserver"
)

// ServeCmd starts the proofls language server.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the proofls language server",
	RunE:    runServe,
}

func init() {
	ServeCmd.Flags().String("prover.binary", "", "path to the prover executable (overrides config)")
	ServeCmd.Flags().String("server.transport", "", "transport to serve on: stdio or websocket (overrides config)")
	ServeCmd.Flags().String("server.address", "", "address to listen on when server.transport is websocket (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return errors.Wrap(err, "serve: load config")
	}

	srv := lspserver.NewServer(lspserver.Options{
		ProverBinary:  cfg.Prover.Binary,
		ProverArgs:    cfg.Prover.Args,
		WrappingWidth: cfg.Document.WrappingWidth,
	})

	switch cfg.Server.Transport {
	case "websocket":
		return serveWebSocket(srv, cfg.Server.Address)
	default:
		return serveStdio(srv)
	}
}

func serveStdio(srv *lspserver.Server) error {
	logger.Infow("proofls: serving over stdio")
	return srv.Serve(context.Background())
}

func serveWebSocket(srv *lspserver.Server, address string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.ServeHTTP)
	httpServer := &http.Server{Addr: address, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("proofls: serving over websocket", "address", address)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serve: websocket server failed")
	case <-sigCh:
		logger.Infow("proofls: shutting down gracefully (press Ctrl+C again to force)")
		shutdownDone := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			shutdownDone <- httpServer.Shutdown(ctx)
		}()

		select {
		case err := <-shutdownDone:
			return errors.Wrap(err, "serve: graceful shutdown failed")
		case <-sigCh:
			logger.Warnw("proofls: forcing immediate shutdown")
			os.Exit(1)
			return nil
		}
	}
}
