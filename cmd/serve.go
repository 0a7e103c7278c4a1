package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BetterCallFirewall/Intruder/internal/api"
	"github.com/BetterCallFirewall/Intruder/internal/websocket"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the campaign API and websocket feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides INTRUDER_LISTEN)")
	return cmd
}

func runServe(ctx context.Context, listen string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.ListenAddr = listen
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	manager, err := newManager(cfg, log, store, false)
	if err != nil {
		return err
	}

	recovered, err := manager.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		log.WithField("campaigns", recovered).Info("Recovered campaigns from storage")
	}

	hub := websocket.NewHub(log)
	go hub.Run()
	events, unsubscribe := manager.Subscribe()
	go hub.Pump(events)

	server := api.New(manager, http.HandlerFunc(hub.ServeWS), log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.ListenAddr)
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case err = <-errCh:
		if err != nil {
			log.WithError(err).Error("API server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Warn("API shutdown incomplete")
	}
	if closeErr := manager.Close(shutdownCtx); closeErr != nil {
		log.WithError(closeErr).Warn("Campaigns did not drain in time")
	}
	unsubscribe()
	hub.Close()
	return err
}
