// Package api assembles the HTTP surface: the /v1 routes behind the
// signed-caller middleware plus unsigned blob serving.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"parley/pkg/api/handlers"
	"parley/pkg/auth"
	"parley/pkg/blob"
	"parley/pkg/chat"
)

// Handler builds the API router over the given service and blob store.
func Handler(svc *chat.Service, blobs blob.Store) http.Handler {
	r := mux.NewRouter()

	// Blob serving stays outside the signed subrouter so plain browser
	// fetches only need an API key at the gateway.
	r.HandleFunc("/v1/blobs/{ref}", handlers.ServeBlob).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(auth.RequireSignedCaller)
	handlers.Register(v1, svc, blobs)

	return r
}
