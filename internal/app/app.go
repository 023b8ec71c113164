// Package app wires configuration, storage, the chat service and the HTTP
// server into one lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"parley/internal/retention"
	"parley/pkg/blob"
	"parley/pkg/chat"
	"parley/pkg/config"
	"parley/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg     *config.Config
	addr    string
	dbPath  string
	version string

	svc   *chat.Service
	blobs *blob.Local

	srv *http.Server
}

// New opens the store and blob directory and builds the service. It does
// not start the HTTP server or retention; call Run for those.
func New(cfg *config.Config, addr, dbPath, version string) (*App, error) {
	_ = godotenv.Load(".env")

	if addr == "" {
		addr = cfg.Addr()
	}
	if dbPath == "" {
		dbPath = cfg.Storage.DBPath
	}
	if dbPath == "" {
		dbPath = "./data"
	}

	// runtime keys: backend API keys double as identity signing secrets
	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, SigningKeys: map[string]struct{}{}}
	for _, k := range cfg.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	if err := store.Open(dbPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dbPath, err)
	}

	blobDir := cfg.Blob.Dir
	if blobDir == "" {
		blobDir = dbPath + "/blobs"
	}
	blobs, err := blob.NewLocal(blobDir, cfg.Blob.MaxUploadSize.Int64())
	if err != nil {
		return nil, fmt.Errorf("failed to open blob dir %s: %w", blobDir, err)
	}

	svc := chat.New(blobs, chat.Options{
		TypingStale:     cfg.Chat.TypingStale.Duration(),
		MaxContentLen:   cfg.Chat.MaxContentLen,
		MaxGroupNameLen: cfg.Chat.MaxGroupNameLen,
	})

	return &App{cfg: cfg, addr: addr, dbPath: dbPath, version: version, svc: svc, blobs: blobs}, nil
}

// Run starts the HTTP server and blocks until ctx is canceled or a fatal
// server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	retCancel, err := retention.Start(ctx, a.cfg.Retention)
	if err != nil {
		return err
	}
	defer retCancel()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		return a.shutdown()
	case err := <-errCh:
		_ = store.Close()
		return err
	}
}

func (a *App) shutdown() error {
	if a.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		_ = a.srv.Shutdown(shutdownCtx)
	}
	return store.Close()
}
