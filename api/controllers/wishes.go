package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/wishspace-backend/api/middleware"
	"github.com/angelmondragon/wishspace-backend/api/responses"
	"github.com/angelmondragon/wishspace-backend/api/validators"
	"github.com/angelmondragon/wishspace-backend/internal/wishes"
	pkgerrors "github.com/angelmondragon/wishspace-backend/pkg/errors"
	"github.com/angelmondragon/wishspace-backend/pkg/logger"
)

type createWishPayload struct {
	Text        string `json:"text" validate:"required"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// WishList returns every wish on the board.
func WishList(svc wishes.Registry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wish registry unavailable"))
			return
		}

		list, err := svc.ListAll(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// WishCreate posts a wish for the authenticated user.
func WishCreate(svc wishes.Registry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wish registry unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(ctx)
		if userID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var payload createWishPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		wish, err := svc.Create(ctx, wishes.CreateInput{
			AuthorID:    userID,
			Username:    middleware.UsernameFromContext(ctx),
			Text:        payload.Text,
			IsAnonymous: payload.IsAnonymous,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteCreated(w, wish)
	}
}

// WishGet returns a single wish.
func WishGet(svc wishes.Registry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wish registry unavailable"))
			return
		}

		wishID := strings.TrimSpace(chi.URLParam(r, "wishId"))
		if wishID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "wish id is required"))
			return
		}

		wish, err := svc.Get(ctx, wishID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, wish)
	}
}
