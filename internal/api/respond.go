package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"phenix-chat/go-backend/internal/remotestore"
	"phenix-chat/go-backend/internal/storage"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{OK: false, Error: msg})
}

// writeStoreError maps store and storage sentinels to 400/404.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, remotestore.ErrNotFound), errors.Is(err, storage.ErrBlobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, remotestore.ErrInvalidArgument),
		errors.Is(err, storage.ErrBlobEmpty),
		errors.Is(err, storage.ErrBlobTooLarge):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrUploadTokenInvalid),
		errors.Is(err, storage.ErrSignatureInvalid),
		errors.Is(err, storage.ErrSignatureExpired):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
