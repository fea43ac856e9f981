// Package secrets abstracts the parameter store holding signing-key material.
package secrets

import (
	"context"
	"errors"
)

// ErrNotFound reports an absent parameter.
var ErrNotFound = errors.New("secrets: parameter not found")

// Store reads and writes named secret parameters. Encrypted parameters are
// decrypted transparently on read.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
	Put(ctx context.Context, name, value string, encrypted bool) error
}
