package server

import (
	"context"
	"fmt"
	"log/slog"

	"oidcp/kv"
	"oidcp/secrets"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config      Config
	Logger      *slog.Logger
	Store       *Store
	Credentials *Credentials
	Registry    *ClientRegistry
	Keys        *KeyManager
	Tokens      *TokenService
}

// NewApp wires together the application state from configuration and the
// store collaborators, and seeds configured clients.
func NewApp(ctx context.Context, cfg Config, backend kv.Backend, secretStore secrets.Store, logger *slog.Logger) (*App, error) {
	store := NewStore(cfg, backend)
	registry := NewClientRegistry(store)
	keys := NewKeyManager(cfg, secretStore, logger)
	tokens := NewTokenService(cfg, store, registry, keys, logger)

	for _, cc := range cfg.Clients {
		client := &Client{
			ClientID:     cc.ClientID,
			ClientSecret: cc.ClientSecret,
			Name:         cc.Name,
			RedirectURIs: cc.RedirectURIs,
		}
		if err := store.PutClient(ctx, client); err != nil {
			return nil, fmt.Errorf("seed client %s: %w", cc.ClientID, err)
		}
	}

	return &App{
		Config:      cfg,
		Logger:      logger,
		Store:       store,
		Credentials: NewCredentials(store),
		Registry:    registry,
		Keys:        keys,
		Tokens:      tokens,
	}, nil
}
