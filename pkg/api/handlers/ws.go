package handlers

import (
	"net/http"

	"chatcore/pkg/auth"
	"chatcore/pkg/gateway"
	"chatcore/pkg/utils"
)

// WS upgrades an authenticated request to a websocket subscription on one
// channel. Registered at the root, not under /v1, so the path matches
// what push clients dial.
type WS struct {
	GW *gateway.Gateway
}

func (h *WS) Serve(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		utils.JSONError(w, http.StatusBadRequest, "channel required")
		return
	}
	id := auth.FromContext(r.Context())
	h.GW.ServeWS(w, r, channel, id.UserID, id.Name, id.Avatar)
}
