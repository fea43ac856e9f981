package server

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded protocol defaults.
const (
	DefaultAccessTTL   = time.Hour
	DefaultRefreshTTL  = 30 * 24 * time.Hour
	DefaultCodeTTL     = 600 * time.Second
	DefaultSessionTTL  = 600 * time.Second
	DefaultKeyCacheTTL = 5 * time.Minute
)

// Hardcoded CORS defaults.
var (
	DefaultCORSAllowedHeaders = []string{"Authorization", "Content-Type"}
	DefaultCORSAllowedMethods = []string{"GET", "POST", "OPTIONS"}
)

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Storage StorageConfig  `yaml:"storage"`
	Secrets SecretsConfig  `yaml:"secrets"`
	Tokens  TokenConfig    `yaml:"tokens"`
	Login   LoginConfig    `yaml:"login"`
	CORS    CORSConfig     `yaml:"cors"`
	Clients []ClientConfig `yaml:"clients"`
}

// ServerConfig controls the listeners and issuer identity. Dev mode serves
// plain HTTP on ListenAddr; otherwise the TLS settings apply.
type ServerConfig struct {
	PublicURL  string    `yaml:"public_url"`
	ListenAddr string    `yaml:"listen_addr"`
	DevMode    bool      `yaml:"dev_mode"`
	TLS        TLSConfig `yaml:"tls"`
}

// TLSConfig drives ACME certificate provisioning outside dev mode.
type TLSConfig struct {
	Domains   []string `yaml:"domains"`
	Email     string   `yaml:"email"`
	CacheDir  string   `yaml:"cache_dir"`
	HTTPAddr  string   `yaml:"http_addr"`
	HTTPSAddr string   `yaml:"https_addr"`
}

// StorageConfig selects and parameterizes the key-value backend.
type StorageConfig struct {
	Backend       string       `yaml:"backend"` // "memory" or "dynamodb"
	Region        string       `yaml:"region"`
	Tables        TablesConfig `yaml:"tables"`
	UsernameIndex string       `yaml:"username_index"`
}

// TablesConfig names the backing tables, one per entity.
type TablesConfig struct {
	Users         string `yaml:"users"`
	Clients       string `yaml:"clients"`
	AuthCodes     string `yaml:"auth_codes"`
	RefreshTokens string `yaml:"refresh_tokens"`
	Sessions      string `yaml:"sessions"`
	Applications  string `yaml:"applications"`
}

// SecretsConfig selects the parameter store holding signing-key material.
type SecretsConfig struct {
	Backend         string `yaml:"backend"` // "memory" or "ssm"
	SigningKeyParam string `yaml:"signing_key_param"`
}

// TokenConfig tunes token and record lifetimes.
type TokenConfig struct {
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
	CodeTTL       time.Duration `yaml:"code_ttl"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	KeyCacheTTL   time.Duration `yaml:"key_cache_ttl"`
	RotateRefresh bool          `yaml:"rotate_refresh"`
}

// LoginConfig selects the flow variant: direct code issuance, or a
// selection step between login and code issuance.
type LoginConfig struct {
	SelectionMode bool   `yaml:"selection_mode"`
	SelectionURL  string `yaml:"selection_url"`
}

// CORSConfig controls cross-origin headers.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// ClientConfig seeds a registered client at startup.
type ClientConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Name         string   `yaml:"name"`
	RedirectURIs []string `yaml:"redirect_uris"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:  "http://127.0.0.1:8080",
			ListenAddr: "127.0.0.1:8080",
			DevMode:    true,
			TLS: TLSConfig{
				CacheDir:  "tls-cache",
				HTTPAddr:  ":80",
				HTTPSAddr: ":443",
			},
		},
		Storage: StorageConfig{
			Backend: "memory",
			Tables: TablesConfig{
				Users:         "oidc-users",
				Clients:       "oidc-clients",
				AuthCodes:     "oidc-auth-codes",
				RefreshTokens: "oidc-refresh-tokens",
				Sessions:      "oidc-sessions",
				Applications:  "oidc-applications",
			},
			UsernameIndex: "username-index",
		},
		Secrets: SecretsConfig{
			Backend:         "memory",
			SigningKeyParam: "/oidcp/jwt-signing-keys",
		},
		Tokens: TokenConfig{
			AccessTTL:   DefaultAccessTTL,
			RefreshTTL:  DefaultRefreshTTL,
			CodeTTL:     DefaultCodeTTL,
			SessionTTL:  DefaultSessionTTL,
			KeyCacheTTL: DefaultKeyCacheTTL,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: DefaultCORSAllowedMethods,
			AllowedHeaders: DefaultCORSAllowedHeaders,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"OIDCP_PUBLIC_URL":        func(v string) { cfg.Server.PublicURL = v },
		"OIDCP_LISTEN_ADDR":       func(v string) { cfg.Server.ListenAddr = v },
		"OIDCP_DEV_MODE":          func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"OIDCP_STORAGE_BACKEND":   func(v string) { cfg.Storage.Backend = v },
		"OIDCP_STORAGE_REGION":    func(v string) { cfg.Storage.Region = v },
		"OIDCP_SECRETS_BACKEND":   func(v string) { cfg.Secrets.Backend = v },
		"OIDCP_SIGNING_KEY_PARAM": func(v string) { cfg.Secrets.SigningKeyParam = v },
		"OIDCP_ROTATE_REFRESH":    func(v string) { cfg.Tokens.RotateRefresh = parseBool(v, cfg.Tokens.RotateRefresh) },
		"OIDCP_USERS_TABLE":       func(v string) { cfg.Storage.Tables.Users = v },
		"OIDCP_CLIENTS_TABLE":     func(v string) { cfg.Storage.Tables.Clients = v },
		"OIDCP_AUTH_CODES_TABLE":  func(v string) { cfg.Storage.Tables.AuthCodes = v },
		"OIDCP_REFRESH_TABLE":     func(v string) { cfg.Storage.Tables.RefreshTokens = v },
		"OIDCP_SESSIONS_TABLE":    func(v string) { cfg.Storage.Tables.Sessions = v },
		"OIDCP_APPS_TABLE":        func(v string) { cfg.Storage.Tables.Applications = v },
	}

	for key, fn := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			fn(v)
		}
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Validate checks configuration invariants before startup.
func (c Config) Validate() error {
	var errs []error

	if c.Server.PublicURL == "" {
		errs = append(errs, errors.New("server.public_url required"))
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		errs = append(errs, fmt.Errorf("server.public_url must be http(s): %q", c.Server.PublicURL))
	}
	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		errs = append(errs, errors.New("server.tls.domains required when dev_mode is disabled"))
	}

	switch c.Storage.Backend {
	case "memory":
	case "dynamodb":
		if c.Storage.Region == "" {
			errs = append(errs, errors.New("storage.region required for dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be memory or dynamodb, got %q", c.Storage.Backend))
	}

	switch c.Secrets.Backend {
	case "memory", "ssm":
	default:
		errs = append(errs, fmt.Errorf("secrets.backend must be memory or ssm, got %q", c.Secrets.Backend))
	}
	if c.Secrets.SigningKeyParam == "" {
		errs = append(errs, errors.New("secrets.signing_key_param required"))
	}

	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 || c.Tokens.CodeTTL <= 0 || c.Tokens.SessionTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}

	if c.Login.SelectionMode && c.Login.SelectionURL == "" {
		errs = append(errs, errors.New("login.selection_url required when selection_mode is enabled"))
	}

	seen := make(map[string]bool)
	for _, cl := range c.Clients {
		if cl.ClientID == "" {
			errs = append(errs, errors.New("clients entries require client_id"))
			continue
		}
		if seen[cl.ClientID] {
			errs = append(errs, fmt.Errorf("duplicate client_id %q", cl.ClientID))
		}
		seen[cl.ClientID] = true
		if len(cl.RedirectURIs) == 0 {
			errs = append(errs, fmt.Errorf("client %q requires at least one redirect_uri", cl.ClientID))
		}
	}

	return errors.Join(errs...)
}

// Issuer returns the canonical issuer URL with no trailing slash.
func (c Config) Issuer() string {
	return strings.TrimSuffix(c.Server.PublicURL, "/")
}
