package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseAllowList(t *testing.T) {
	tests := []struct {
		name        string
		entries     []string
		wantCount   int
		wantInvalid int
	}{
		{"empty list", nil, 0, 0},
		{"single IP", []string{"192.168.1.1"}, 1, 0},
		{"CIDR notation", []string{"192.168.0.0/16", "10.0.0.0/8"}, 2, 0},
		{"mixed with blanks", []string{"192.168.1.1", " ", "10.0.0.0/8"}, 2, 0},
		{"with invalid", []string{"192.168.1.1", "invalid", "10.0.0.0/99"}, 1, 2},
		{"IPv6", []string{"::1", "fe80::/10"}, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefixes, invalid := ParseAllowList(tt.entries)
			if len(prefixes) != tt.wantCount {
				t.Errorf("got %d prefixes, want %d", len(prefixes), tt.wantCount)
			}
			if len(invalid) != tt.wantInvalid {
				t.Errorf("got %d invalid, want %d", len(invalid), tt.wantInvalid)
			}
		})
	}
}

func TestContainsAddr(t *testing.T) {
	prefixes, _ := ParseAllowList([]string{
		"192.168.1.100",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"::1",
		"fe80::/10",
	})

	tests := []struct {
		ip      string
		allowed bool
	}{
		{"192.168.1.100", true},
		{"192.168.1.101", false},
		{"10.255.255.255", true},
		{"11.0.0.1", false},
		{"172.31.255.255", true},
		{"172.32.0.1", false},
		{"::1", true},
		{"fe80::1", true},
		{"2001:db8::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := containsAddr(prefixes, netip.MustParseAddr(tt.ip)); got != tt.allowed {
				t.Errorf("containsAddr(%s) = %v, want %v", tt.ip, got, tt.allowed)
			}
		})
	}
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr with port", "192.168.1.100:12345", nil, "192.168.1.100"},
		{"forwarded single", "127.0.0.1:1", map[string]string{"X-Forwarded-For": "10.0.0.1"}, "10.0.0.1"},
		{"forwarded chain", "127.0.0.1:1", map[string]string{"X-Forwarded-For": "10.0.0.1, 192.168.1.1"}, "10.0.0.1"},
		{"real ip", "127.0.0.1:1", map[string]string{"X-Real-IP": "172.16.0.1"}, "172.16.0.1"},
		{
			"forwarded wins",
			"127.0.0.1:1",
			map[string]string{"X-Forwarded-For": "10.0.0.1", "X-Real-IP": "172.16.0.1"},
			"10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/metrics", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			addr, ok := clientAddr(req)
			if !ok {
				t.Fatal("clientAddr failed")
			}
			if addr.String() != tt.want {
				t.Errorf("clientAddr() = %s, want %s", addr, tt.want)
			}
		})
	}
}

func TestServerHandler(t *testing.T) {
	m := New()
	m.ReviewsPending.Set(3)

	t.Run("metrics open without allow list", func(t *testing.T) {
		s := NewServer(m, ServerConfig{}, nil, discardLogger())
		req := httptest.NewRequest("GET", "/metrics", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "outreach_reviews_pending 3") {
			t.Error("expected outreach_reviews_pending in output")
		}
	})

	t.Run("denied IP", func(t *testing.T) {
		s := NewServer(m, ServerConfig{AllowedIPs: []string{"192.168.1.0/24"}}, nil, discardLogger())
		req := httptest.NewRequest("GET", "/metrics", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("allowed IP", func(t *testing.T) {
		s := NewServer(m, ServerConfig{AllowedIPs: []string{"192.168.1.0/24"}}, nil, discardLogger())
		req := httptest.NewRequest("GET", "/metrics", nil)
		req.RemoteAddr = "192.168.1.100:12345"
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("health ignores allow list", func(t *testing.T) {
		s := NewServer(m, ServerConfig{AllowedIPs: []string{"192.168.1.0/24"}}, nil, discardLogger())
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("ready reports failure", func(t *testing.T) {
		ready := func(ctx context.Context) error { return errors.New("storage closed") }
		s := NewServer(m, ServerConfig{}, ready, discardLogger())
		req := httptest.NewRequest("GET", "/ready", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestShutdownWithoutStart(t *testing.T) {
	s := NewServer(New(), ServerConfig{}, nil, discardLogger())
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}
