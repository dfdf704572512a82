// Package main provides the entry point for the geopreview service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/geopreview/internal/app"
	"github.com/jobrunner/geopreview/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "geopreview",
	Short: "geopreview - geospatial file preview service",
	Long: `geopreview turns geospatial files into bounded, reprojected previews.

It reads Shapefile, DXF, GeoJSON, CSV, GeoPackage and OpenStreetMap files,
detects their coordinate system and serves a sampled preview over HTTP.

Features:
  - Coordinate system detection from metadata and coordinate ranges
  - Reprojection between Swiss, UTM, Web Mercator and WGS84 systems
  - Memory-bounded chunked ingestion with grid sampling
  - Multiple storage backends (local, AWS S3, Azure, HTTP)
  - Hot-reload of datasets
  - TLS with automatic certificate management
  - Prometheus metrics`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "geopreview %s\n", version)
		fmt.Fprintf(out, "  Commit:     %s\n", commit)
		fmt.Fprintf(out, "  Build Date: %s\n", buildDate)
	},
}

// serverFlags maps root command flags to their configuration keys.
var serverFlags = []struct {
	flag, key string
}{
	{"host", "server.host"},
	{"port", "server.port"},
	{"cors", "server.cors.allowed_origins"},
	{"tls", "tls.enabled"},
	{"tls-domains", "tls.domains"},
	{"tls-email", "tls.email"},
	{"storage-type", "storage.type"},
	{"storage-path", "storage.local_path"},
	{"sync-interval", "sync.interval"},
	{"watch", "watcher.enabled"},
	{"max-features", "pipeline.max_preview_features"},
	{"max-memory", "pipeline.max_memory_mb"},
	{"target", "pipeline.default_target"},
}

func init() {
	cobra.OnInitialize(initConfig)

	global := rootCmd.PersistentFlags()
	global.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	global.String("log-level", "info", "log level (debug, info, warn, error)")
	global.String("log-format", "json", "log format (json, text)")
	_ = viper.BindPFlag("logging.level", global.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", global.Lookup("log-format"))

	flags := rootCmd.Flags()
	flags.String("host", "0.0.0.0", "listen host")
	flags.Int("port", 8080, "listen port")
	flags.StringSlice("cors", nil, "allowed CORS origins, e.g. https://example.com,*.sub.domain.tld")
	flags.Bool("tls", false, "serve HTTPS with ACME certificates")
	flags.StringSlice("tls-domains", nil, "certificate domains")
	flags.String("tls-email", "", "ACME account email")
	flags.String("storage-type", "local", "dataset storage (local, s3, azure, http)")
	flags.String("storage-path", "./data", "local dataset directory")
	flags.Duration("sync-interval", 0, "storage sync interval, 0 disables")
	flags.Bool("watch", true, "reload datasets when local files change")
	flags.Int("max-features", 5000, "default preview feature limit")
	flags.Int("max-memory", 512, "default memory ceiling in MB")
	flags.String("target", "EPSG:4326", "default target coordinate system")
	for _, b := range serverFlags {
		_ = viper.BindPFlag(b.key, flags.Lookup(b.flag))
	}

	rootCmd.AddCommand(versionCmd, previewCmd, analyzeCmd, systemsCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting geopreview",
		"version", version,
		"address", cfg.Server.Address(),
		"storage", cfg.Storage.Type,
		"target", cfg.Pipeline.DefaultTarget,
		"tls", cfg.TLS.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- service.Start(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			runErr = err
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return errors.Join(runErr, err)
	}

	logger.Info("geopreview stopped")
	return runErr
}

// setupLogger builds the process logger. Unknown levels fall back to info
// and any format other than "text" logs JSON.
func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
