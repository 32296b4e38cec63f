package api

import (
	"net/http"

	"chatcore/pkg/api/handlers"
	"chatcore/pkg/auth"
	"chatcore/pkg/gateway"
	"chatcore/pkg/telemetry"

	"github.com/gorilla/mux"
)

// Options assembles the HTTP surface.
type Options struct {
	Gateway  *gateway.Gateway
	Sec      auth.SecConfig
	MaxLimit int
	// Ready reports whether the storage engine can serve reads.
	Ready func() bool
}

// Handler builds the full router: /v1 JSON endpoints, the websocket
// upgrade, probes and metrics. The guard middleware wraps everything;
// it lets probes and metrics through without an identity.
func Handler(opts Options) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.Ready != nil && !opts.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not_ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	(&handlers.Messages{GW: opts.Gateway}).Register(v1)
	(&handlers.Events{GW: opts.Gateway, MaxLimit: opts.MaxLimit}).Register(v1)
	(&handlers.Presence{GW: opts.Gateway}).Register(v1)

	ws := &handlers.WS{GW: opts.Gateway}
	r.HandleFunc("/ws", ws.Serve).Methods(http.MethodGet)

	var h http.Handler = r
	h = telemetry.Middleware(h)
	h = auth.GuardMiddleware(opts.Sec)(h)
	return h
}
