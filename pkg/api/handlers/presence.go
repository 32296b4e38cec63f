package handlers

import (
	"net/http"

	"chatcore/pkg/gateway"
	"chatcore/pkg/models"
	"chatcore/pkg/utils"

	"github.com/gorilla/mux"
)

// Presence serves the derived presence roster.
type Presence struct {
	GW *gateway.Gateway
}

func (h *Presence) Register(r *mux.Router) {
	r.HandleFunc("/presence", h.list).Methods(http.MethodGet)
}

func (h *Presence) list(w http.ResponseWriter, r *http.Request) {
	entries := h.GW.Presence()
	if entries == nil {
		entries = []models.PresenceEntry{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Users []models.PresenceEntry `json:"users"`
	}{Users: entries})
}
