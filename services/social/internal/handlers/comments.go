package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/example/social-platform/internal/platform/api"
	"github.com/example/social-platform/services/social/internal/engagement"
	"github.com/example/social-platform/services/social/internal/store"
)

type createCommentRequest struct {
	Content        string `json:"content"`
	ParentID       string `json:"parent_id,omitempty"`
	ReplyToActorID string `json:"reply_to_actor_id,omitempty"`
}

type deleteCommentResponse struct {
	Removed int64 `json:"removed"`
}

// ListComments handles GET /v1/posts/{post_id}/comments
func ListComments(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID, ok := pathID(w, r, "post_id")
		if !ok {
			return
		}
		q := r.URL.Query()
		page, err := svc.ListTopLevel(r.Context(), engagement.ListParams{
			PostID:         postID,
			Sort:           store.ParseSort(q.Get("sort")),
			Page:           pageRequest(r),
			Actor:          actorOf(r),
			IncludeReplies: queryBool(q.Get("include_replies")),
		})
		if err != nil {
			writeErr(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, page)
	}
}

// CreateComment handles POST /v1/posts/{post_id}/comments
func CreateComment(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		postID, ok := pathID(w, r, "post_id")
		if !ok {
			return
		}

		var req createCommentRequest
		if err := api.DecodeJSON(w, r, &req); err != nil {
			badRequest(w, r, "INVALID_JSON", err.Error())
			return
		}

		created, err := svc.AddComment(r.Context(), engagement.AddCommentParams{
			PostID:         postID,
			ActorID:        userID,
			Content:        req.Content,
			ParentID:       req.ParentID,
			ReplyToActorID: req.ReplyToActorID,
		})
		if err != nil {
			writeErr(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusCreated, created)
	}
}

// GetComment handles GET /v1/comments/{comment_id}
func GetComment(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		commentID, ok := pathID(w, r, "comment_id")
		if !ok {
			return
		}
		view, err := svc.GetComment(r.Context(), commentID, actorOf(r))
		if err != nil {
			writeErr(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, view)
	}
}

// ListReplies handles GET /v1/comments/{comment_id}/replies
func ListReplies(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		commentID, ok := pathID(w, r, "comment_id")
		if !ok {
			return
		}
		page, err := svc.ListReplies(r.Context(), commentID, pageRequest(r), actorOf(r))
		if err != nil {
			writeErr(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, page)
	}
}

// ToggleCommentLike handles POST /v1/comments/{comment_id}/likes
func ToggleCommentLike(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		commentID, ok := pathID(w, r, "comment_id")
		if !ok {
			return
		}
		res, err := svc.ToggleCommentLike(r.Context(), commentID, userID)
		if err != nil {
			writeErr(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	}
}

// DeleteComment handles DELETE /v1/comments/{comment_id}
func DeleteComment(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		commentID, ok := pathID(w, r, "comment_id")
		if !ok {
			return
		}
		removed, err := svc.DeleteComment(r.Context(), commentID, userID)
		if err != nil {
			writeErr(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, deleteCommentResponse{Removed: removed})
	}
}
