package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"parley/pkg/models"
	"parley/pkg/utils"
)

func registerConversations(r *mux.Router) {
	r.HandleFunc("/conversations/direct", createDirect).Methods(http.MethodPost)
	r.HandleFunc("/conversations/group", createGroup).Methods(http.MethodPost)
	r.HandleFunc("/conversations", listConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}", getConversation).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}", updateGroup).Methods(http.MethodPatch)
	r.HandleFunc("/conversations/{id}", deleteGroup).Methods(http.MethodDelete)

	r.HandleFunc("/conversations/{id}/members", listMembers).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/members", addMembers).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/members/{userID}", manageMember).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/leave", leaveGroup).Methods(http.MethodPost)
}

// createDirect handles POST /conversations/direct: idempotent DM
// creation. Returns 200 for an existing conversation, 201 for a new one.
func createDirect(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	conv, created, err := svc.CreateOrGetDirect(caller, body.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	_ = utils.JSONWrite(w, status, conv)
}

// createGroup handles POST /conversations/group.
func createGroup(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	var body struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"member_ids"`
		AvatarRef string   `json:"avatar_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	conv, err := svc.CreateGroup(caller, body.Name, body.MemberIDs, body.AvatarRef)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, conv)
}

// listConversations handles GET /conversations: the caller's sidebar,
// enriched and sorted by most recent activity.
func listConversations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	views, err := svc.ListForUser(caller)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"conversations": views})
}

func getConversation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	view, err := svc.GetByID(caller, mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, view)
}

// updateGroup handles PATCH /conversations/{id}: partial group-detail
// update, owner or admin only.
func updateGroup(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	var upd models.GroupUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	conv, err := svc.UpdateGroupDetails(caller, mux.Vars(r)["id"], upd)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

// deleteGroup handles DELETE /conversations/{id}: owner-only terminal
// soft delete.
func deleteGroup(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	if err := svc.DeleteGroup(caller, mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func listMembers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	members, err := svc.ListMembers(caller, mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"members": members})
}

func addMembers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	var body struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	conv, err := svc.AddMembers(caller, mux.Vars(r)["id"], body.UserIDs)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

// manageMember handles POST /conversations/{id}/members/{userID} with an
// action of remove, promote or demote.
func manageMember(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	vars := mux.Vars(r)
	if err := svc.ManageMember(caller, vars["id"], vars["userID"], body.Action); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func leaveGroup(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	caller, ok := resolveCaller(w, r)
	if !ok {
		return
	}
	if err := svc.Leave(caller, mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "left"})
}
