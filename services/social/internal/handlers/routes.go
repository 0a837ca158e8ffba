package handlers

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/social-platform/internal/platform/auth"
	"github.com/example/social-platform/services/social/internal/engagement"
)

// Mount registers the public HTTP surface on r.
func Mount(r chi.Router, svc *engagement.Service, verifier auth.JWTVerifier, log *zap.Logger) {
	// Reads are open to anonymous callers; a token only adds liked_by_current_user.
	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalUser(verifier))
		r.Get("/v1/posts/{post_id}/comments", ListComments(svc, log))
		r.Get("/v1/comments/{comment_id}", GetComment(svc, log))
		r.Get("/v1/comments/{comment_id}/replies", ListReplies(svc, log))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(verifier))
		r.Post("/v1/posts/{post_id}/comments", CreateComment(svc, log))
		r.Post("/v1/comments/{comment_id}/likes", ToggleCommentLike(svc, log))
		r.Delete("/v1/comments/{comment_id}", DeleteComment(svc, log))

		r.Post("/v1/posts/{post_id}/reactions", ToggleReaction(svc, log))
		r.Get("/v1/posts/{post_id}/reactions", GetReactionState(svc, log))
		r.Get("/v1/posts/{post_id}/reactions/check", CheckReaction(svc, log))

		r.With(auth.RequireAdmin).Post("/v1/admin/posts/{post_id}/reconcile", ReconcilePost(svc, log))
	})
}
