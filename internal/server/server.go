package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nicwh1988/respawn/internal/config"
	"github.com/nicwh1988/respawn/internal/manager"
	itls "github.com/nicwh1988/respawn/internal/tls"
)

// NewServer binds the API listener and serves in a background goroutine. The
// returned server's Addr carries the bound address, so a configured port of 0
// resolves to the real one. TLS is used when both cert and key are set.
// Callers shut the server down with Shutdown or Close.
func NewServer(cfg config.ServerConfig, mgr *manager.Manager, logger *slog.Logger) (*http.Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Listen == "" {
		return nil, errors.New("server listen address required")
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.New("server cert_file and key_file must be set together")
	}

	r := NewRouter(mgr, cfg.BasePath)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.CertFile != "" {
		tcfg, err := itls.ServerTLS(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		srv.TLSConfig = tcfg
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	srv.Addr = ln.Addr().String()

	go func() {
		var serr error
		if srv.TLSConfig != nil {
			serr = srv.ServeTLS(ln, "", "")
		} else {
			serr = srv.Serve(ln)
		}
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			logger.Error("api server failed", "addr", srv.Addr, "error", serr)
		}
	}()
	logger.Info("api server listening", "addr", srv.Addr, "base_path", sanitizeBase(cfg.BasePath))
	return srv, nil
}
