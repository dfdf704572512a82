// Package tls serves the API over HTTPS with certificates managed by
// CertMagic through Azure DNS-01 challenges.
package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"

	"github.com/jobrunner/geopreview/internal/config"
)

// Server wraps an HTTP server with automatic certificates.
type Server struct {
	config    config.TLSConfig
	magic     *certmagic.Config
	server    *http.Server
	logger    *slog.Logger
	tlsConfig *tls.Config
}

// NewServer creates a TLS server for handler. The listen address and
// timeouts come from the HTTP server settings.
func NewServer(cfg config.TLSConfig, srv config.ServerConfig, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	magic := newMagic(cfg)
	tlsConfig := magic.TLSConfig()
	tlsConfig.NextProtos = append([]string{"h2", "http/1.1"}, tlsConfig.NextProtos...)

	return &Server{
		config: cfg,
		magic:  magic,
		server: &http.Server{
			Addr:              srv.Address(),
			Handler:           handler,
			TLSConfig:         tlsConfig,
			ReadTimeout:       srv.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      srv.WriteTimeout,
		},
		logger:    logger,
		tlsConfig: tlsConfig,
	}, nil
}

func validate(cfg config.TLSConfig) error {
	if len(cfg.Domains) == 0 {
		return errors.New("TLS enabled but no domains specified")
	}
	if cfg.Email == "" {
		return errors.New("TLS enabled but no email specified")
	}
	if cfg.DNS.SubscriptionID == "" || cfg.DNS.ResourceGroupName == "" {
		return errors.New("TLS requires an Azure DNS subscription and resource group")
	}
	return nil
}

// newMagic builds a CertMagic configuration with its own ACME issuer so
// the package level defaults stay untouched.
func newMagic(cfg config.TLSConfig) *certmagic.Config {
	magic := certmagic.NewDefault()
	if cfg.CacheDir != "" {
		magic.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	ca := certmagic.LetsEncryptProductionCA
	if cfg.Staging {
		ca = certmagic.LetsEncryptStagingCA
	}

	// An empty client ID selects the system assigned managed identity.
	provider := &azure.Provider{
		SubscriptionId:    cfg.DNS.SubscriptionID,
		ResourceGroupName: cfg.DNS.ResourceGroupName,
		ClientId:          cfg.DNS.ClientID,
	}

	magic.Issuers = []certmagic.Issuer{
		certmagic.NewACMEIssuer(magic, certmagic.ACMEIssuer{
			CA:     ca,
			Email:  cfg.Email,
			Agreed: true,
			DNS01Solver: &certmagic.DNS01Solver{
				DNSManager: certmagic.DNSManager{DNSProvider: provider},
			},
		}),
	}
	return magic
}

// ManageCertificates obtains or renews certificates for the configured
// domains before the listener starts.
func (s *Server) ManageCertificates(ctx context.Context) error {
	s.logger.Info("obtaining certificates", "domains", s.config.Domains, "staging", s.config.Staging)

	if err := s.magic.ManageSync(ctx, s.config.Domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}

	s.logger.Info("certificates obtained successfully")
	return nil
}

// Start serves HTTPS until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTPS server", "address", s.server.Addr, "domains", s.config.Domains)
	return s.server.ListenAndServeTLS("", "")
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTPS server")
	return s.server.Shutdown(ctx)
}

// TLSConfig returns the TLS configuration.
func (s *Server) TLSConfig() *tls.Config {
	return s.tlsConfig
}
