package handlers

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"parley/pkg/logger"
	"parley/pkg/utils"
)

func registerUploads(r *mux.Router) {
	r.HandleFunc("/uploads", requestUpload).Methods(http.MethodPost)
	r.HandleFunc("/uploads/{ref}", putUpload).Methods(http.MethodPut)
}

// requestUpload handles POST /uploads: issues an upload handle the client
// puts bytes to before referencing the blob in a message or avatar.
func requestUpload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, ok := resolveCaller(w, r); !ok {
		return
	}
	target, err := blobs.RequestUploadHandle()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "upload handle unavailable")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, target)
}

// putUpload handles PUT /uploads/{ref}: stores the raw request body under
// a previously issued handle.
func putUpload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, ok := resolveCaller(w, r); !ok {
		return
	}
	ref := mux.Vars(r)["ref"]
	data, err := io.ReadAll(r.Body)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := blobs.Put(ref, data); err != nil {
		logger.Warn("blob_put_rejected", "ref", ref, "error", err)
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"ref": ref})
}

type blobOpener interface {
	Open(ref string) ([]byte, error)
}

// ServeBlob handles GET /blobs/{ref}. Registered outside the signed
// subrouter so plain <img> fetches work with only an API key.
func ServeBlob(w http.ResponseWriter, r *http.Request) {
	op, ok := blobs.(blobOpener)
	if !ok {
		utils.JSONError(w, http.StatusNotFound, "not found")
		return
	}
	data, err := op.Open(mux.Vars(r)["ref"])
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(data)
}
