package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"phenix-chat/go-backend/internal/anyone"
	"phenix-chat/go-backend/internal/platform/metrics"
	"phenix-chat/go-backend/internal/platform/ratelimiter"
	"phenix-chat/go-backend/internal/remotestore"
	"phenix-chat/go-backend/internal/storage"
	"phenix-chat/go-backend/pkg/models"
)

const maxUploadBytes = 8 << 20

// AnyoneSession is the server-side singleton behind /anyone/*.
type AnyoneSession interface {
	Connect(ctx context.Context) (string, error)
	Disconnect(ctx context.Context) error
	Stats(ctx context.Context) anyone.Stats
}

type Deps struct {
	Anyone  AnyoneSession
	Store   remotestore.Store
	Uploads *storage.Uploads
	Limiter *ratelimiter.KeyLimiter
	Metrics *metrics.Registry
	Logger  zerolog.Logger
}

type handlers struct {
	Deps
}

// NewRouter wires every route. Rate limiting covers /anyone and uploads.
func NewRouter(d Deps) http.Handler {
	h := &handlers{Deps: d}
	r := mux.NewRouter()
	r.Use(h.instrument)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}

	if d.Anyone != nil {
		a := r.PathPrefix("/anyone").Subrouter()
		a.Use(d.Limiter.Middleware)
		a.HandleFunc("/connect", h.anyoneConnect).Methods(http.MethodPost)
		a.HandleFunc("/disconnect", h.anyoneDisconnect).Methods(http.MethodPost)
		a.HandleFunc("/stats", h.anyoneStats).Methods(http.MethodGet)
	}

	if d.Store != nil {
		s := r.PathPrefix("/api").Subrouter()
		s.HandleFunc("/users", h.upsertUser).Methods(http.MethodPost)
		s.HandleFunc("/users/by-address/{address}", h.userByAddress).Methods(http.MethodGet)
		s.HandleFunc("/users/by-inbox/{inboxId}", h.userByInbox).Methods(http.MethodGet)
		s.HandleFunc("/conversations", h.upsertConversation).Methods(http.MethodPost)
		s.HandleFunc("/conversations", h.conversationsForAddress).Methods(http.MethodGet).Queries("address", "{address}")
		s.HandleFunc("/conversations/{key}/last-message", h.updateLastMessage).Methods(http.MethodPut)
		s.HandleFunc("/profiles/{userId}", h.updateProfile).Methods(http.MethodPut)
		s.HandleFunc("/profiles/by-address/{address}", h.profileByAddress).Methods(http.MethodGet)
		s.HandleFunc("/profiles/by-inbox", h.profilesForInboxIDs).Methods(http.MethodPost)
		s.HandleFunc("/storage/{storageId}/url", h.storageURL).Methods(http.MethodGet)
		s.Handle("/uploads", d.Limiter.Middleware(http.HandlerFunc(h.generateUploadURL))).Methods(http.MethodPost)
	}

	if d.Uploads != nil {
		r.Handle("/uploads/{token}", d.Limiter.Middleware(http.HandlerFunc(h.acceptUpload))).Methods(http.MethodPost)
		r.HandleFunc("/blobs/{storageId}", h.serveBlob).Methods(http.MethodGet)
	}
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *handlers) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		h.Metrics.HTTPRequest(route, rec.code)
		h.Logger.Debug().Str("method", r.Method).Str("route", route).Int("status", rec.code).
			Dur("elapsed", time.Since(started)).Msg("http request")
	})
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) anyoneConnect(w http.ResponseWriter, r *http.Request) {
	id, err := h.Anyone.Connect(r.Context())
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "Failed to connect"
		}
		writeError(w, http.StatusInternalServerError, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "circuitId": id})
}

func (h *handlers) anyoneDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.Anyone.Disconnect(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handlers) anyoneStats(w http.ResponseWriter, r *http.Request) {
	st := h.Anyone.Stats(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"activeRelays":   st.ActiveRelays,
		"totalBandwidth": st.TotalBandwidth,
	})
}

type upsertUserRequest struct {
	Address string `json:"address"`
	ENSName string `json:"ensName,omitempty"`
	InboxID string `json:"inboxId,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

func (h *handlers) upsertUser(w http.ResponseWriter, r *http.Request) {
	var req upsertUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := h.Store.UpsertUser(r.Context(), req.Address, req.ENSName, req.InboxID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idResponse{ID: id})
}

func (h *handlers) userByAddress(w http.ResponseWriter, r *http.Request) {
	u, err := h.Store.GetUserByAddress(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handlers) userByInbox(w http.ResponseWriter, r *http.Request) {
	u, err := h.Store.GetUserByInboxID(r.Context(), mux.Vars(r)["inboxId"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type upsertConversationRequest struct {
	Participants []string `json:"participants"`
}

func (h *handlers) upsertConversation(w http.ResponseWriter, r *http.Request) {
	var req upsertConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := h.Store.UpsertConversation(r.Context(), req.Participants)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idResponse{ID: id})
}

func (h *handlers) conversationsForAddress(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.GetConversationsForAddress(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []models.StoredConversation{}
	}
	writeJSON(w, http.StatusOK, list)
}

type lastMessageRequest struct {
	LastMessage string `json:"lastMessage"`
}

func (h *handlers) updateLastMessage(w http.ResponseWriter, r *http.Request) {
	var req lastMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Store.UpdateLastMessage(r.Context(), mux.Vars(r)["key"], req.LastMessage); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req remotestore.ProfileUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := h.Store.UpdateProfile(r.Context(), mux.Vars(r)["userId"], req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idResponse{ID: id})
}

func (h *handlers) profileByAddress(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProfileByAddress(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type inboxIDsRequest struct {
	InboxIDs []string `json:"inboxIds"`
}

func (h *handlers) profilesForInboxIDs(w http.ResponseWriter, r *http.Request) {
	var req inboxIDsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	out, err := h.Store.GetProfilesForInboxIDs(r.Context(), req.InboxIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type urlResponse struct {
	URL string `json:"url"`
}

func (h *handlers) generateUploadURL(w http.ResponseWriter, r *http.Request) {
	u, err := h.Store.GenerateUploadURL(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, urlResponse{URL: u})
}

func (h *handlers) storageURL(w http.ResponseWriter, r *http.Request) {
	u, err := h.Store.GetURLForStorageID(r.Context(), mux.Vars(r)["storageId"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, urlResponse{URL: u})
}

type uploadResponse struct {
	StorageID string `json:"storageId"`
}

func (h *handlers) acceptUpload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	meta, err := h.Uploads.Accept(mux.Vars(r)["token"], r.Header.Get("Content-Type"), data)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{StorageID: meta.ID})
}

func (h *handlers) serveBlob(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	meta, data, err := h.Uploads.Open(mux.Vars(r)["storageId"], q.Get("exp"), q.Get("sig"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, _ = w.Write(data)
}
