// Package api is the local HTTP surface read by presentation. It renders
// nothing itself: handlers are thin translations between HTTP and the
// engine, and every piece of state they return comes from the store.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inboxsync/pkg/logging"
	"inboxsync/pkg/models"
	"inboxsync/pkg/policy"
	"inboxsync/pkg/send"
	"inboxsync/pkg/store"
	"inboxsync/pkg/transport"
	"inboxsync/pkg/utils"
	"inboxsync/pkg/validation"
)

// Engine is the session engine surface the handlers need.
type Engine interface {
	Conversations(f store.ListFilter) []models.Conversation
	Messages(convID string) []models.Message
	Send(ctx context.Context, convID string, in send.Input) (send.Report, error)
	RemoveFailed(convID, tempID string) bool
	MarkRead(ctx context.Context, convID string) error
	EditLead(ctx context.Context, convID string, in validation.LeadPatchInput) error
	Window(convID string) policy.Window
	UploadMedia(ctx context.Context, name, contentType string, src io.Reader) (string, error)
}

// Options carries optional extras beyond the engine itself.
type Options struct {
	// Refresh triggers a manual full re-fetch (POST /v1/refresh). Nil
	// disables the route.
	Refresh func(ctx context.Context)
}

// Handler builds the router.
func Handler(e Engine, opts Options) http.Handler {
	r := mux.NewRouter()
	r.Use(logging.Middleware)
	h := &handlers{engine: e, opts: opts}

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/conversations", h.listConversations).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/messages", h.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/messages", h.sendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/messages/{tempID}", h.dismissFailed).Methods(http.MethodDelete)
	v1.HandleFunc("/conversations/{id}/read", h.markRead).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/lead", h.patchLead).Methods(http.MethodPatch)
	v1.HandleFunc("/conversations/{id}/window", h.window).Methods(http.MethodGet)
	v1.HandleFunc("/media", h.uploadMedia).Methods(http.MethodPost)
	if opts.Refresh != nil {
		v1.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)
	}
	return r
}

type handlers struct {
	engine Engine
	opts   Options
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) listConversations(w http.ResponseWriter, r *http.Request) {
	f := store.ListFilter{
		Status: models.ConversationStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
	}
	convs := h.engine.Conversations(f)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"items": convs})
}

func (h *handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	msgs := h.engine.Messages(convID)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"items": msgs})
}

func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	var body struct {
		Text        string              `json:"text"`
		Attachments []models.Attachment `json:"attachments"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.engine.Send(r.Context(), convID, send.Input{Text: body.Text, Attachments: body.Attachments})
	if err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	// per-part failures ride inside the report; the send itself succeeded
	// in the sense that every part was attempted
	_ = utils.JSONWrite(w, http.StatusOK, report)
}

func (h *handlers) dismissFailed(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !h.engine.RemoveFailed(vars["id"], vars["tempID"]) {
		utils.JSONError(w, http.StatusNotFound, "no such failed message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) markRead(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	if err := h.engine.MarkRead(r.Context(), convID); err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) patchLead(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	var in validation.LeadPatchInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.EditLead(r.Context(), convID, in); err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) window(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	_ = utils.JSONWrite(w, http.StatusOK, h.engine.Window(convID))
}

func (h *handlers) uploadMedia(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()
	url, err := h.engine.UploadMedia(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		utils.JSONError(w, statusFor(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"url": url})
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	go h.opts.Refresh(context.Background())
	w.WriteHeader(http.StatusAccepted)
}

// statusFor maps engine errors onto HTTP statuses for the local surface.
func statusFor(err error) int {
	var verr *validation.Error
	switch {
	case errors.Is(err, policy.ErrWindowClosed):
		return http.StatusConflict
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case transport.IsAuthorization(err):
		return http.StatusUnauthorized
	case transport.IsValidation(err):
		return http.StatusBadRequest
	case transport.IsRateLimited(err):
		return http.StatusTooManyRequests
	case transport.IsNetwork(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
