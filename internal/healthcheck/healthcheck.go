// Package healthcheck exposes a minimal liveness endpoint for long-running
// commands.
package healthcheck

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// NormalizeListen turns a bare port into a listen address and trims noise.
func NormalizeListen(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, ":") {
		return ":" + raw
	}
	return raw
}

// StartServer serves GET /healthz on addr until Shutdown is called.
func StartServer(ctx context.Context, logger *slog.Logger, addr, component string) (*http.Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":    "ok",
			"component": component,
		})
	})
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	// Resolve ":0" style addresses to the bound port.
	server.Addr = listener.Addr().String()
	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Warn("health_server_error", "addr", addr, "error", serveErr.Error())
		}
	}()
	logger.Info("health_server_started", "addr", addr, "component", component)
	return server, nil
}
