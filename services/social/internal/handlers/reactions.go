package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/example/social-platform/internal/platform/api"
	"github.com/example/social-platform/services/social/internal/engagement"
	"github.com/example/social-platform/services/social/internal/store"
)

type reactionRequest struct {
	Type string `json:"type"`
}

type reactionCheckResponse struct {
	Type   store.ReactionKind `json:"type"`
	Active bool               `json:"active"`
}

// ToggleReaction handles POST /v1/posts/{post_id}/reactions
func ToggleReaction(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		postID, ok := pathID(w, r, "post_id")
		if !ok {
			return
		}

		var req reactionRequest
		if err := api.DecodeJSON(w, r, &req); err != nil {
			badRequest(w, r, "INVALID_JSON", err.Error())
			return
		}

		res, err := svc.ToggleReaction(r.Context(), postID, userID, store.ReactionKind(req.Type))
		if err != nil {
			writeErr(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	}
}

// CheckReaction handles GET /v1/posts/{post_id}/reactions/check?type=
func CheckReaction(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		postID, ok := pathID(w, r, "post_id")
		if !ok {
			return
		}

		kind := store.ReactionKind(r.URL.Query().Get("type"))
		active, err := svc.HasReaction(r.Context(), postID, userID, kind)
		if err != nil {
			writeErr(w, r, log, err)
			return
		}
		normalized, _ := store.ParseReactionKind(string(kind))
		api.WriteJSON(w, http.StatusOK, reactionCheckResponse{Type: normalized, Active: active})
	}
}

// GetReactionState handles GET /v1/posts/{post_id}/reactions
func GetReactionState(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		postID, ok := pathID(w, r, "post_id")
		if !ok {
			return
		}
		state, err := svc.ReactionState(r.Context(), postID, userID)
		if err != nil {
			writeErr(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, state)
	}
}
