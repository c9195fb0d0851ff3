package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/collabforge/syncd/internal/admin"
	"github.com/collabforge/syncd/internal/config"
	"github.com/collabforge/syncd/internal/logger"
	"github.com/collabforge/syncd/internal/scheduler"
	"github.com/collabforge/syncd/internal/server"
	"github.com/collabforge/syncd/internal/storage"
	"github.com/collabforge/syncd/internal/voice"
)

func serveCmd() *cobra.Command {
	var configFlag string
	var addrFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFlag)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := storage.Open(cfg.StoragePath, true)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			voiceSvc := voice.NewService(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.LiveKitURL, 0)
			if !voiceSvc.Enabled() {
				logger.Info("voice surface disabled: no LiveKit credentials configured")
			}

			srv := server.New(cfg, store, voiceSvc)

			addr := addrFlag
			if addr == "" {
				addr = fmt.Sprintf(":%d", cfg.Port)
			}

			mux := srv.Routes()
			adminAPI := admin.New(srv.Rooms, srv.Presence, store, srv, "ws://localhost"+addr)
			adminAPI.Register(mux)
			httpSrv := &http.Server{
				Addr:    addr,
				Handler: mux,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched := scheduler.New(cfg, srv.Rooms, srv.Presence, store)
			schedDone := make(chan struct{})
			go sched.Run(ctx, schedDone)

			errCh := make(chan error, 1)
			go func() {
				logger.Info("syncd listening", "addr", addr)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
				defer cancel()
				if err := httpSrv.Shutdown(shutdownCtx); err != nil {
					return err
				}
				// Wait for the scheduler's own final save pass (triggered by
				// the same ctx cancellation) to finish before flushing and
				// closing the store out from under it.
				<-schedDone
				return store.Flush()
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				stop()
				<-schedDone
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&configFlag, "config", "", "path to a YAML config overlay")
	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (overrides config port)")

	return cmd
}
