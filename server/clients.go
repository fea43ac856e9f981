package server

import (
	"context"
	"crypto/subtle"
	"slices"
)

// ClientRegistry validates claimed client identities against the stored
// client records.
type ClientRegistry struct {
	store *Store
}

// NewClientRegistry constructs the registry over the store.
func NewClientRegistry(store *Store) *ClientRegistry {
	return &ClientRegistry{store: store}
}

// Validate resolves a client and checks the optional secret and redirect
// URI against its registration. Returns nil (not an error) when the client
// is unknown, the secret mismatches, or the redirect URI is unregistered.
// Secret comparison is constant-time.
func (cr *ClientRegistry) Validate(ctx context.Context, clientID, clientSecret, redirectURI string) (*Client, error) {
	client, err := cr.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, nil
	}
	if clientSecret != "" && subtle.ConstantTimeCompare([]byte(clientSecret), []byte(client.ClientSecret)) != 1 {
		return nil, nil
	}
	if redirectURI != "" && !slices.Contains(client.RedirectURIs, redirectURI) {
		return nil, nil
	}
	return client, nil
}
