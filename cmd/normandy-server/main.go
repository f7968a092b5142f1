// Command normandy-server runs the Normandy HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kilupskalvis/normandy/internal/cli"
)

func main() {
	var opts cli.ServeOptions
	flag.StringVar(&opts.ConfigPath, "config", envOrDefault("NORMANDY_CONFIG", "/etc/normandy/normandy.toml"), "Config file")
	flag.StringVar(&opts.Listen, "listen", os.Getenv("NORMANDY_SERVER_LISTEN"), "Listen address, overrides the config file")
	flag.StringVar(&opts.LogLevel, "log-level", envOrDefault("NORMANDY_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	flag.StringVar(&opts.LogFormat, "log-format", envOrDefault("NORMANDY_LOG_FORMAT", "json"), "Log format (json, text)")
	flag.StringVar(&opts.TLSCert, "tls-cert", os.Getenv("NORMANDY_TLS_CERT"), "TLS certificate file")
	flag.StringVar(&opts.TLSKey, "tls-key", os.Getenv("NORMANDY_TLS_KEY"), "TLS key file")
	flag.BoolVar(&opts.NoSigning, "no-signing", false, "Run without signing even if Autograph is configured")
	flag.DurationVar(&opts.SignInterval, "sign-interval", 0, "Run the signature sweep on this interval")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Serve(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
