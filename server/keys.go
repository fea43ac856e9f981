package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"oidcp/secrets"
)

// signingKeyMaterial is the JSON shape persisted in the secret store.
type signingKeyMaterial struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
	Kid        string `json:"kid"`
	Alg        string `json:"alg"`
}

type signingKeys struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	kid        string
}

type cachedKeys struct {
	keys     *signingKeys
	loadedAt time.Time
}

// KeyManager owns the asymmetric signing key pair. Material is loaded
// lazily from the secret store, generated and persisted when absent, and
// cached in process behind an atomic pointer with a bounded TTL. The
// private key never leaves this type.
type KeyManager struct {
	secrets   secrets.Store
	paramName string
	issuer    string
	cacheTTL  time.Duration
	logger    *slog.Logger

	cache atomic.Pointer[cachedKeys]
	mu    sync.Mutex // serializes cache refills and generation
}

// NewKeyManager constructs the key manager. No key material is touched
// until first use.
func NewKeyManager(cfg Config, store secrets.Store, logger *slog.Logger) *KeyManager {
	return &KeyManager{
		secrets:   store,
		paramName: cfg.Secrets.SigningKeyParam,
		issuer:    cfg.Issuer(),
		cacheTTL:  cfg.Tokens.KeyCacheTTL,
		logger:    logger,
	}
}

// Sign issues a signed token carrying the given claims plus issuer,
// issued-at, expiry, and the key id header.
func (km *KeyManager) Sign(ctx context.Context, claims jwt.MapClaims, ttl time.Duration) (string, error) {
	keys, err := km.load(ctx, false)
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims["iss"] = km.issuer
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = now.Unix()
	}
	claims["exp"] = now.Add(ttl).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keys.kid
	signed, err := token.SignedString(keys.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token: RS256 only, issuer match, expiry.
// A kid the cache does not know forces a refetch from the secret store.
func (km *KeyManager) Verify(ctx context.Context, token string) (jwt.MapClaims, error) {
	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		keys, err := km.load(ctx, false)
		if err != nil {
			return nil, err
		}
		if kid != "" && kid != keys.kid {
			if keys, err = km.load(ctx, true); err != nil {
				return nil, err
			}
			if kid != keys.kid {
				return nil, fmt.Errorf("unknown kid %q", kid)
			}
		}
		return keys.publicKey, nil
	}

	parsed, err := jwt.Parse(token, keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(km.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// PublicJWKS exposes the active public key in JWKS form.
func (km *KeyManager) PublicJWKS(ctx context.Context) (jose.JSONWebKeySet, error) {
	keys, err := km.load(ctx, false)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       keys.publicKey,
		KeyID:     keys.kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}, nil
}

// load returns the cached key material, refilling from the secret store
// when the TTL has lapsed or force is set. Readers see the cache through an
// atomic pointer; only the refill path takes the mutex.
func (km *KeyManager) load(ctx context.Context, force bool) (*signingKeys, error) {
	if c := km.cache.Load(); c != nil && !force && time.Since(c.loadedAt) < km.cacheTTL {
		return c.keys, nil
	}

	km.mu.Lock()
	defer km.mu.Unlock()

	// Another caller may have refilled while we waited.
	if c := km.cache.Load(); c != nil && !force && time.Since(c.loadedAt) < km.cacheTTL {
		return c.keys, nil
	}

	material, err := km.fetchOrGenerate(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := parseKeyMaterial(material)
	if err != nil {
		return nil, err
	}

	km.cache.Store(&cachedKeys{keys: keys, loadedAt: time.Now()})
	return keys, nil
}

// fetchOrGenerate loads persisted key material, generating and persisting a
// fresh pair when the parameter is absent or incomplete. Persistence
// happens before the material is ever used for signing, so a signed token
// can always be verified by a later process.
func (km *KeyManager) fetchOrGenerate(ctx context.Context) (*signingKeyMaterial, error) {
	raw, err := km.secrets.Get(ctx, km.paramName)
	if err != nil && !errors.Is(err, secrets.ErrNotFound) {
		return nil, fmt.Errorf("load signing keys: %w", err)
	}

	if err == nil {
		var material signingKeyMaterial
		if jsonErr := json.Unmarshal([]byte(raw), &material); jsonErr == nil &&
			material.PrivateKey != "" && material.PublicKey != "" {
			return &material, nil
		}
		km.logger.Warn("stored signing keys incomplete, generating new pair", "param", km.paramName)
	}

	material, err := generateKeyMaterial()
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(material)
	if err != nil {
		return nil, fmt.Errorf("encode signing keys: %w", err)
	}
	if err := km.secrets.Put(ctx, km.paramName, string(encoded), true); err != nil {
		return nil, fmt.Errorf("persist signing keys: %w", err)
	}
	km.logger.Info("generated signing key pair", "kid", material.Kid)
	return material, nil
}

func generateKeyMaterial() (*signingKeyMaterial, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}

	return &signingKeyMaterial{
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
		PublicKey:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		Kid:        uuid.NewString(),
		Alg:        "RS256",
	}, nil
}

func parseKeyMaterial(material *signingKeyMaterial) (*signingKeys, error) {
	privBlock, _ := pem.Decode([]byte(material.PrivateKey))
	if privBlock == nil {
		return nil, errors.New("signing key material: bad private key PEM")
	}
	privAny, err := x509.ParsePKCS8PrivateKey(privBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := privAny.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("signing key material: private key is not RSA")
	}

	pubBlock, _ := pem.Decode([]byte(material.PublicKey))
	if pubBlock == nil {
		return nil, errors.New("signing key material: bad public key PEM")
	}
	pubAny, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("signing key material: public key is not RSA")
	}

	return &signingKeys{privateKey: priv, publicKey: pub, kid: material.Kid}, nil
}
