package handlers

import (
	"encoding/json"
	"net/http"

	"chatcore/pkg/auth"
	"chatcore/pkg/gateway"
	"chatcore/pkg/utils"

	"github.com/gorilla/mux"
)

// Events serves the poll surface: cursor deltas and typing signals.
type Events struct {
	GW *gateway.Gateway
	// MaxLimit caps the page size a poller may request.
	MaxLimit int
}

const defaultPollLimit = 100

func (h *Events) Register(r *mux.Router) {
	r.HandleFunc("/channels/{channel}/events", h.poll).Methods(http.MethodGet)
	r.HandleFunc("/channels/{channel}/typing", h.typing).Methods(http.MethodPost)
}

func (h *Events) poll(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	id := auth.FromContext(r.Context())

	cursor, err := utils.QueryUint(r, "cursor", 0)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid cursor")
		return
	}
	limit, err := utils.QueryInt(r, "limit", defaultPollLimit)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	maxLimit := h.MaxLimit
	if maxLimit <= 0 {
		maxLimit = 1000
	}
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	delta, err := h.GW.FetchSince(r.Context(), channel, cursor, limit, id.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, delta)
}

func (h *Events) typing(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	id := auth.FromContext(r.Context())
	var payload struct {
		Typing bool `json:"typing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	h.GW.SetTyping(channel, id.UserID, payload.Typing)
	w.WriteHeader(http.StatusNoContent)
}
