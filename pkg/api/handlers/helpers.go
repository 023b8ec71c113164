package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"parley/pkg/auth"
	"parley/pkg/blob"
	"parley/pkg/chat"
	"parley/pkg/models"
	"parley/pkg/utils"
)

var (
	svc   *chat.Service
	blobs blob.Store
)

// Register wires every API route onto the router. The router is expected
// to already sit behind the gateway and signed-caller middleware.
func Register(r *mux.Router, s *chat.Service, b blob.Store) {
	svc = s
	blobs = b
	registerUsers(r)
	registerConversations(r)
	registerMessages(r)
	registerTyping(r)
	registerUploads(r)
}

// writeErr maps a service error to its HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		utils.JSONError(w, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, chat.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, chat.ErrForbidden):
		utils.JSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrInvalidArgument):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrConflict):
		utils.JSONError(w, http.StatusConflict, err.Error())
	default:
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// resolveCaller resolves the signed identity ref on the request to a user
// record, writing the error response itself on failure.
func resolveCaller(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	ref := auth.CallerRefFromContext(r.Context())
	u, err := svc.ResolveCaller(ref)
	if err != nil {
		writeErr(w, err)
		return models.User{}, false
	}
	return u, true
}
