package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"parley/pkg/utils"
)

func registerTyping(r *mux.Router) {
	r.HandleFunc("/conversations/{id}/typing", setTyping).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/typing", clearTyping).Methods(http.MethodDelete)
	r.HandleFunc("/conversations/{id}/typing", listTyping).Methods(http.MethodGet)
}

// setTyping handles POST /conversations/{id}/typing: upserts the caller's
// typing signal with the current time.
func setTyping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	if err := svc.SetTyping(caller, mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clearTyping handles DELETE /conversations/{id}/typing; clearing an
// absent signal still returns 200.
func clearTyping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	if err := svc.ClearTyping(caller, mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listTyping handles GET /conversations/{id}/typing: users with a live
// typing signal, never including the caller.
func listTyping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	users, err := svc.ListTyping(caller, mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"typing": users})
}
