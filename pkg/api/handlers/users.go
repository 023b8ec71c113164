package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"parley/pkg/auth"
	"parley/pkg/utils"
)

func registerUsers(r *mux.Router) {
	r.HandleFunc("/users/sync", syncUser).Methods(http.MethodPost)
	r.HandleFunc("/users", listUsers).Methods(http.MethodGet)
	r.HandleFunc("/users/me", getMe).Methods(http.MethodGet)
	r.HandleFunc("/users/online", setOnline).Methods(http.MethodPost)
	// registered after the literal routes so "me" never matches as an id
	r.HandleFunc("/users/{id}", getUser).Methods(http.MethodGet)
}

// syncUser handles POST /users/sync: the identity-provider webhook relay.
// Backend keys only; upserts the user record for an external identity.
func syncUser(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !auth.IsBackend(r) {
		utils.JSONError(w, http.StatusForbidden, "backend key required")
		return
	}
	var body struct {
		IdentityRef string `json:"identity_ref"`
		Name        string `json:"name"`
		Email       string `json:"email"`
		AvatarRef   string `json:"avatar_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	u, err := svc.SyncUser(body.IdentityRef, body.Name, body.Email, body.AvatarRef)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, u)
}

// listUsers handles GET /users: every user except the caller.
func listUsers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	users, err := svc.ListUsers(caller)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"users": users})
}

// getMe handles GET /users/me.
func getMe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, svc.Me(caller))
}

// getUser handles GET /users/{id}: one user's summary.
func getUser(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, ok := resolveCaller(w, r); !ok {
		return
	}
	sum, err := svc.GetUser(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, sum)
}

// setOnline handles POST /users/online: explicit presence signals from
// the client (mount, visibility change, unload).
func setOnline(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	var body struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := svc.UpdateOnlineStatus(caller, body.Online); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]bool{"online": body.Online})
}
