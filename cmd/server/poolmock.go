package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/hive/internal/poolmanager/mock"
)

var poolmockCmd = &cobra.Command{
	Use:   "poolmock",
	Short: "Run an in-memory Pool Manager for local development",
	Long: `poolmock serves the Pool Manager API from memory. Point POOL_MANAGER_URL
at it and store the same API key on a swarm.`,
	RunE: runPoolMock,
}

func init() {
	f := poolmockCmd.Flags()
	f.String("addr", ":8090", "listen address")
	f.String("api-key", os.Getenv("POOL_MANAGER_API_KEY"), "bearer key clients must send (default $POOL_MANAGER_API_KEY)")
	f.Duration("tick", 500*time.Millisecond, "how often VMs advance state")
}

func runPoolMock(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	apiKey, _ := cmd.Flags().GetString("api-key")
	tick, _ := cmd.Flags().GetDuration("tick")
	if apiKey == "" {
		return errors.New("an API key is required: pass --api-key or set POOL_MANAGER_API_KEY")
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	sim := mock.New(apiKey, logger, mock.WithTick(tick))
	sim.Start()
	defer sim.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           sim,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("mock pool manager listening", slog.String("addr", addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("poolmock: %w", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("poolmock: shutdown: %w", err)
		}
		logger.Info("mock pool manager stopped")
	}
	return nil
}
