package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/social-platform/internal/platform/api"
	"github.com/example/social-platform/internal/platform/auth"
	"github.com/example/social-platform/internal/platform/httpserver"
	"github.com/example/social-platform/services/social/internal/engagement"
	"github.com/example/social-platform/services/social/internal/store"
)

// writeErr maps engine errors onto the JSON error envelope.
func writeErr(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	reqID := httpserver.RequestIDFromContext(r.Context())

	var verr *engagement.ValidationError
	switch {
	case errors.As(err, &verr):
		api.Invalid(w, reqID, verr.Field, verr.Reason, verr.Error())
	case errors.Is(err, engagement.ErrValidation):
		api.Error(w, reqID, api.CodeValidation, err.Error())
	case errors.Is(err, engagement.ErrNotFound):
		api.Error(w, reqID, api.CodeNotFound, err.Error())
	case errors.Is(err, engagement.ErrForbidden):
		api.Error(w, reqID, api.CodeForbidden, err.Error())
	default:
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", reqID),
			zap.Error(err))
		api.Internal(w, reqID)
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, code api.Code, message string) {
	api.Error(w, httpserver.RequestIDFromContext(r.Context()), code, message)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, name))
	if id == "" {
		badRequest(w, r, "MISSING_ID", name+" is required")
		return "", false
	}
	return id, true
}

// requireUserID reads the id injected by auth.RequireUser.
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.Error(w, httpserver.RequestIDFromContext(r.Context()), api.CodeUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}

func actorOf(r *http.Request) engagement.Actor {
	userID, _ := auth.UserIDFromContext(r.Context())
	return engagement.ActorOf(userID)
}

// pageRequest reads page and size. Missing or malformed values fall back to defaults;
// out-of-range ones are clamped by the store.
func pageRequest(r *http.Request) store.PageRequest {
	q := r.URL.Query()
	return store.PageRequest{Page: queryInt(q.Get("page")), Size: queryInt(q.Get("size"))}
}

func queryInt(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

func queryBool(raw string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && b
}
