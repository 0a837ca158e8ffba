package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/example/social-platform/internal/platform/api"
	"github.com/example/social-platform/services/social/internal/engagement"
)

// ReconcilePost handles POST /v1/admin/posts/{post_id}/reconcile?repair=
func ReconcilePost(svc *engagement.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID, ok := pathID(w, r, "post_id")
		if !ok {
			return
		}
		rep, err := svc.Reconcile(r.Context(), postID, queryBool(r.URL.Query().Get("repair")))
		if err != nil {
			writeErr(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, rep)
	}
}
