package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/normandy/internal/api"
	"github.com/kilupskalvis/normandy/internal/auth"
	"github.com/kilupskalvis/normandy/internal/checks"
	"github.com/kilupskalvis/normandy/internal/config"
	"github.com/kilupskalvis/normandy/internal/core"
	"github.com/kilupskalvis/normandy/internal/signing"
	"github.com/kilupskalvis/normandy/internal/store"
)

// ServeOptions configures Serve.
type ServeOptions struct {
	ConfigPath   string
	Listen       string // overrides the config file when set
	LogLevel     string
	LogFormat    string
	TLSCert      string
	TLSKey       string
	NoSigning    bool
	SignInterval time.Duration // zero disables the periodic signature sweep
}

func newServerCmd(a *app) *cobra.Command {
	opts := ServeOptions{}
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the Normandy HTTP API",
		Long: `Run the Normandy HTTP API.

Public endpoints serve signed recipes, the legacy bundle and heartbeats.
Recipe management endpoints require an OIDC bearer token, checked against
[oidc] user_endpoint.

Examples:
  normandy server
  normandy server --listen 127.0.0.1:8000 --log-format text
  normandy server --sign-interval 10m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = a.configPath
			opts.NoSigning = a.noSigning
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Serve(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Listen, "listen", os.Getenv("NORMANDY_SERVER_LISTEN"), "Listen address (host:port)")
	f.StringVar(&opts.LogLevel, "log-level", envOrDefault("NORMANDY_LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	f.StringVar(&opts.LogFormat, "log-format", envOrDefault("NORMANDY_LOG_FORMAT", "json"), "Log format (json|text)")
	f.StringVar(&opts.TLSCert, "tls-cert", os.Getenv("NORMANDY_TLS_CERT"), "TLS certificate file")
	f.StringVar(&opts.TLSKey, "tls-key", os.Getenv("NORMANDY_TLS_KEY"), "TLS key file")
	f.DurationVar(&opts.SignInterval, "sign-interval", 0, "Run update-signatures periodically")
	return cmd
}

// NewServerLogger builds the server logger from a level and format name.
func NewServerLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, opts ServeOptions) error {
	logger := NewServerLogger(opts.LogLevel, opts.LogFormat)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	signer, err := buildSigner(cfg, opts.NoSigning, logger)
	if err != nil {
		return fmt.Errorf("signing is misconfigured (use --no-signing to run without): %w", err)
	}
	if signer == nil {
		logger.Warn("signing disabled, recipes will not be signed")
	}
	svc := core.NewService(st, signer, logger)

	var authn api.Authenticator
	if cfg.OIDC.UserEndpoint != "" {
		authn = auth.NewUserInfoClient(cfg.AuthConfig())
	} else {
		logger.Warn("no OIDC user endpoint configured, management endpoints are disabled")
	}

	runner := &checks.Runner{
		Store:       st,
		Verifier:    signing.NewVerifier(cfg.VerifierConfig()),
		ExpireEarly: cfg.ExpireEarly(),
	}

	h, handlerCleanup := api.Handler(svc, authn, runner, &api.Config{
		MaxRequestBody:    api.DefaultConfig().MaxRequestBody,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
	}, logger)
	defer handlerCleanup()

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	if opts.SignInterval > 0 && signer != nil {
		go sweepSignatures(ctx, svc, opts.SignInterval, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting normandy server", "listen", cfg.Server.Listen, "database", cfg.DatabasePath())
		var err error
		if opts.TLSCert != "" && opts.TLSKey != "" {
			err = srv.ListenAndServeTLS(opts.TLSCert, opts.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// sweepSignatures runs the batch signing on a fixed interval.
func sweepSignatures(ctx context.Context, svc *core.Service, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			report, err := svc.UpdateSignatures(ctx, false)
			if err != nil {
				logger.Error("signature sweep failed", "error", err)
				continue
			}
			logger.Info("signature sweep",
				"signed_recipes", len(report.SignedRecipes),
				"unsigned_recipes", len(report.UnsignedRecipes),
				"signed_actions", len(report.SignedActions),
			)
		case <-ctx.Done():
			return
		}
	}
}
