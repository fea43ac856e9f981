package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/crypto/acme/autocert"

	"oidcp/kv"
	"oidcp/secrets"
	"oidcp/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("OIDCP_CONFIG"), "Path to YAML config")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	flag.Parse()

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", *logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, secretStore, err := buildStores(ctx, cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}

	app, err := server.NewApp(ctx, cfg, backend, secretStore, logger)
	if err != nil {
		log.Fatalf("init app: %v", err)
	}

	handler := app.Routes()

	var shutdownFns []func(context.Context) error
	if cfg.Server.DevMode {
		srv := &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		shutdownFns = append(shutdownFns, srv.Shutdown)
		logger.Info("listening", "mode", "dev", "addr", cfg.Server.ListenAddr, "issuer", cfg.Issuer())
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server error", "error", err)
			}
		}()
	} else {
		m := &autocert.Manager{
			Cache:      autocert.DirCache(cfg.Server.TLS.CacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Server.TLS.Domains...),
			Email:      cfg.Server.TLS.Email,
		}

		httpRedirect := &http.Server{
			Addr:              cfg.Server.TLS.HTTPAddr,
			Handler:           m.HTTPHandler(http.HandlerFunc(redirectToHTTPS)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		shutdownFns = append(shutdownFns, httpRedirect.Shutdown)
		go func() {
			if err := httpRedirect.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http redirect error", "error", err)
			}
		}()

		httpsSrv := &http.Server{
			Addr:    cfg.Server.TLS.HTTPSAddr,
			Handler: handler,
			TLSConfig: &tls.Config{
				GetCertificate: m.GetCertificate,
				MinVersion:     tls.VersionTLS12,
			},
			ReadHeaderTimeout: 10 * time.Second,
		}
		shutdownFns = append(shutdownFns, httpsSrv.Shutdown)
		logger.Info("listening", "mode", "prod", "addr", cfg.Server.TLS.HTTPSAddr, "issuer", cfg.Issuer())
		go func() {
			if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("https server error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, fn := range shutdownFns {
		if err := fn(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}
}

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// buildStores selects the configured store collaborators: in-memory for dev
// mode, DynamoDB and SSM Parameter Store otherwise.
func buildStores(ctx context.Context, cfg server.Config) (kv.Backend, secrets.Store, error) {
	var backend kv.Backend
	var secretStore secrets.Store

	var awsCfg aws.Config
	if cfg.Storage.Backend == "dynamodb" || cfg.Secrets.Backend == "ssm" {
		loaded, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Storage.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = loaded
	}

	switch cfg.Storage.Backend {
	case "dynamodb":
		backend = kv.NewDynamoBackend(dynamodb.NewFromConfig(awsCfg))
	default:
		backend = kv.NewMemoryBackend()
	}

	switch cfg.Secrets.Backend {
	case "ssm":
		secretStore = secrets.NewSSMStore(ssm.NewFromConfig(awsCfg))
	default:
		secretStore = secrets.NewMemoryStore()
	}

	return backend, secretStore, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level")
	}
}
