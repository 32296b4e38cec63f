package handlers

import (
	"errors"
	"net/http"

	"chatcore/pkg/chat"
	"chatcore/pkg/store"
	"chatcore/pkg/utils"
)

// writeErr maps core errors onto HTTP statuses. Unknown errors are
// reported as internal without leaking detail.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrForbidden):
		utils.JSONError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, store.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, chat.ErrChannelFailed):
		utils.JSONError(w, http.StatusServiceUnavailable, "channel unavailable")
	default:
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
	}
}
