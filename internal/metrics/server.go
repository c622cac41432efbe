package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessFunc reports whether the engine can serve traffic
type ReadinessFunc func(ctx context.Context) error

// ServerConfig configures the metrics endpoint
type ServerConfig struct {
	Addr       string
	Path       string
	AllowedIPs []string
}

// Server serves Prometheus metrics and probes over HTTP
type Server struct {
	httpServer *http.Server
	metrics    *Metrics
	cfg        ServerConfig
	allowed    []netip.Prefix
	ready      ReadinessFunc
	logger     *slog.Logger
}

// NewServer creates a new metrics HTTP server. ready may be nil.
func NewServer(m *Metrics, cfg ServerConfig, ready ReadinessFunc, logger *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}

	allowed, invalid := ParseAllowList(cfg.AllowedIPs)
	for _, entry := range invalid {
		logger.Warn("invalid entry in allowed_ips", "entry", entry)
	}
	if len(allowed) > 0 {
		logger.Info("metrics IP filtering enabled", "allowed_networks", len(allowed))
	}

	return &Server{
		metrics: m,
		cfg:     cfg,
		allowed: allowed,
		ready:   ready,
		logger:  logger,
	}
}

// ParseAllowList parses IPs and CIDRs. Bare IPs become single-host prefixes.
func ParseAllowList(entries []string) (prefixes []netip.Prefix, invalid []string) {
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				invalid = append(invalid, entry)
				continue
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			invalid = append(invalid, entry)
			continue
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, invalid
}

// Handler returns the router with the metrics path and the probes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	promHandler := promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	r.With(s.allowListMiddleware).Handle(s.cfg.Path, promHandler)

	// Probes stay open for load balancers
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.ready != nil {
			if err := s.ready(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	})

	return r
}

// ListenAndServe starts the metrics HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting metrics server", "addr", s.cfg.Addr, "path", s.cfg.Path)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) allowListMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowed) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		addr, ok := clientAddr(r)
		if !ok {
			s.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if !containsAddr(s.allowed, addr) {
			s.logger.Warn("metrics access denied", "ip", addr.String())
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientAddr prefers the first X-Forwarded-For hop, then X-Real-IP, then RemoteAddr
func clientAddr(r *http.Request) (netip.Addr, bool) {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.Unmap(), true
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr.Unmap(), true
		}
	}

	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}
