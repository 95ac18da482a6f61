package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/wishspace-backend/api/middleware"
	"github.com/angelmondragon/wishspace-backend/api/responses"
	"github.com/angelmondragon/wishspace-backend/internal/likes"
	pkgerrors "github.com/angelmondragon/wishspace-backend/pkg/errors"
	"github.com/angelmondragon/wishspace-backend/pkg/logger"
)

type likeResponse struct {
	Liked        bool  `json:"liked"`
	AlreadyLiked bool  `json:"already_liked"`
	LikeCount    int64 `json:"like_count"`
}

// WishLike records the authenticated user's like. A repeated like is a
// success with already_liked set.
func WishLike(svc likes.Coordinator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		wishID, userID, ok := likeTarget(w, r, svc != nil, logg)
		if !ok {
			return
		}

		result, err := svc.Like(ctx, wishID, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, likeResponse{
			Liked:        true,
			AlreadyLiked: result.Outcome == likes.OutcomeAlreadyLiked,
			LikeCount:    result.LikeCount,
		})
	}
}

// WishHasLiked reports whether the authenticated user liked the wish.
func WishHasLiked(svc likes.Coordinator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		wishID, userID, ok := likeTarget(w, r, svc != nil, logg)
		if !ok {
			return
		}

		liked, err := svc.HasLiked(ctx, wishID, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"liked": liked})
	}
}

func likeTarget(w http.ResponseWriter, r *http.Request, available bool, logg *logger.Logger) (string, string, bool) {
	ctx := r.Context()
	if !available {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "like coordinator unavailable"))
		return "", "", false
	}

	userID := middleware.UserIDFromContext(ctx)
	if userID == "" {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
		return "", "", false
	}

	wishID := strings.TrimSpace(chi.URLParam(r, "wishId"))
	if wishID == "" {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "wish id is required"))
		return "", "", false
	}
	return wishID, userID, true
}
