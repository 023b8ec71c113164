package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"parley/pkg/telemetry"
	"parley/pkg/utils"
)

func registerMessages(r *mux.Router) {
	r.HandleFunc("/conversations/{id}/messages", sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/messages", listMessages).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/read", markRead).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/media", sharedMedia).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/media/count", mediaCount).Methods(http.MethodGet)

	r.HandleFunc("/messages/{id}", deleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/reactions", toggleReaction).Methods(http.MethodPost)
}

// sendMessage handles POST /conversations/{id}/messages. Content may be
// empty only when an attachment ref is given.
func sendMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	var body struct {
		Content        string `json:"content"`
		AttachmentRef  string `json:"attachment_ref"`
		AttachmentKind string `json:"attachment_kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	view, err := svc.Send(caller, mux.Vars(r)["id"], body.Content, body.AttachmentRef, body.AttachmentKind)
	if err != nil {
		writeErr(w, err)
		return
	}
	telemetry.CountMessageAppended()
	_ = utils.JSONWrite(w, http.StatusCreated, view)
}

// listMessages handles GET /conversations/{id}/messages: the full log
// oldest-to-newest, enriched for the caller. Non-participants see an
// empty list.
func listMessages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	msgs, err := svc.List(caller, mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// markRead handles POST /conversations/{id}/read: advances the caller's
// last-seen pointer to the newest message.
func markRead(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	if err := svc.MarkRead(caller, mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sharedMedia handles GET /conversations/{id}/media: non-deleted
// attachment messages, newest-first.
func sharedMedia(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	items, err := svc.SharedMedia(caller, mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"media": items})
}

// mediaCount handles GET /conversations/{id}/media/count.
func mediaCount(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	n, err := svc.MediaCount(caller, mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]int{"count": n})
}

// deleteMessage handles DELETE /messages/{id}: sender-only soft delete.
func deleteMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	if err := svc.SoftDelete(caller, mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// toggleReaction handles POST /messages/{id}/reactions: flips the
// caller's reaction row for the given emoji and returns the new
// aggregate.
func toggleReaction(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	var body struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	state, err := svc.ToggleReaction(caller, mux.Vars(r)["id"], body.Emoji)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, state)
}
