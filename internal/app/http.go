package app

import (
	"context"
	"net/http"

	"chatcore/pkg/api"
	"chatcore/pkg/auth"
	"chatcore/pkg/logger"
)

// startHTTP builds the handler, starts the HTTP server in a goroutine and
// returns a channel that will contain any server error.
func (a *App) startHTTP(_ context.Context) <-chan error {
	secCfg := auth.SecConfig{
		AllowedOrigins: append([]string{}, a.cfg.Security.CORS.AllowedOrigins...),
		RPS:            a.cfg.Security.RateLimit.RPS,
		Burst:          a.cfg.Security.RateLimit.Burst,
	}

	handler := api.Handler(api.Options{
		Gateway:  a.gw,
		Sec:      secCfg,
		MaxLimit: a.cfg.Gateway.MaxPollLimit,
		Ready:    a.engine.Ready,
	})

	a.srv = &http.Server{Addr: a.addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		cert := a.cfg.Server.TLS.CertFile
		key := a.cfg.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}

func (a *App) stopHTTP(ctx context.Context) {
	if a.srv == nil {
		return
	}
	if err := a.srv.Shutdown(ctx); err != nil {
		logger.Warn("http_shutdown_failed", "error", err)
	}
}
