package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trackboard/trackboard/internal/access"
	"github.com/trackboard/trackboard/internal/httpapi"
	"github.com/trackboard/trackboard/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracker HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, registry, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Store.Close()
		registry.Watch()
		defer registry.Close()

		sessionTTL, err := time.ParseDuration(cfg.GetString(cfgKeySessionTTL))
		if err != nil {
			return err
		}
		server := httpapi.NewServer(backend, registry, store.NewSchemaSet(cfg.GetString(cfgKeySchemaDir)), access.DefaultPages, httpapi.ServerConfig{
			SessionTTL: sessionTTL,
			OpenAccess: cfg.GetBool(cfgKeyOpenAccess),
		})

		addr := cfg.GetString(cfgKeyAddr)
		httpServer := &http.Server{Addr: addr, Handler: server}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		errCh := make(chan error, 1)
		go func() {
			log.Printf("trackboard listening on %s (backend: %s)", addr, backend.Kind)
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		}
	},
}

// openBackend runs the one-time configuration resolution: the DSN picks the
// store, an empty DSN means the mock with a logged warning. The registry
// always scans the content dir, which is where the file backend and any
// legacy files live.
func openBackend() (store.Backend, *store.Registry, error) {
	seeds := make([]store.PageSeed, 0, len(access.DefaultPages))
	for _, page := range access.DefaultPages {
		seeds = append(seeds, store.PageSeed{Slug: page.Slug, Title: page.Title})
	}
	backend, err := store.ResolveBackend(cfg.GetString(cfgKeyDatabaseDSN), seeds)
	if err != nil {
		return store.Backend{}, nil, err
	}
	log.Printf("resolved storage backend: %s", backend.Kind)
	return backend, store.NewRegistry(cfg.GetString(cfgKeyContentDir)), nil
}
