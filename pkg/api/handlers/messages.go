package handlers

import (
	"encoding/json"
	"net/http"

	"chatcore/pkg/auth"
	"chatcore/pkg/gateway"
	"chatcore/pkg/logger"
	"chatcore/pkg/models"
	"chatcore/pkg/utils"

	"github.com/gorilla/mux"
)

// Messages holds the message endpoints. All ops resolve the acting user
// from the identity middleware; client-supplied author fields are ignored.
type Messages struct {
	GW *gateway.Gateway
}

// Register registers message endpoints on the /v1 subrouter.
func (h *Messages) Register(r *mux.Router) {
	r.HandleFunc("/channels/{channel}/messages", h.create).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", h.update).Methods(http.MethodPut)
	r.HandleFunc("/messages/{id}", h.delete).Methods(http.MethodDelete)
}

func (h *Messages) create(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	id := auth.FromContext(r.Context())
	var payload struct {
		Body     string `json:"body"`
		Kind     string `json:"kind"`
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := h.GW.SendMessage(r.Context(), models.Message{
		Channel:  channel,
		Author:   id.UserID,
		Name:     id.Name,
		Avatar:   id.Avatar,
		Body:     payload.Body,
		Kind:     payload.Kind,
		ClientID: payload.ClientID,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("message_created", "channel", channel, "id", m.ID, "author", id.UserID)
	_ = utils.JSONWrite(w, http.StatusCreated, m)
}

func (h *Messages) get(w http.ResponseWriter, r *http.Request) {
	m, err := h.GW.GetMessage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func (h *Messages) update(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	var payload struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := h.GW.EditMessage(r.Context(), mux.Vars(r)["id"], id.UserID, payload.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("message_edited", "id", m.ID, "author", id.UserID)
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func (h *Messages) delete(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	msgID := mux.Vars(r)["id"]
	if err := h.GW.DeleteMessage(r.Context(), msgID, id.UserID); err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("message_deleted", "id", msgID, "requester", id.UserID)
	w.WriteHeader(http.StatusNoContent)
}
