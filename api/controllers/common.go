package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shoplane-labs/shoplane-backend/api/middleware"
	cartsvc "github.com/shoplane-labs/shoplane-backend/internal/cart"
	pkgerrors "github.com/shoplane-labs/shoplane-backend/pkg/errors"
)

func currentUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user identity")
	}
	return userID, nil
}

// cartOwner resolves the request to an identified or anonymous cart owner.
// A bearer token wins over a session token when both are present.
func cartOwner(r *http.Request) (cartsvc.Owner, error) {
	if raw := middleware.UserIDFromContext(r.Context()); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			return cartsvc.Owner{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user identity")
		}
		return cartsvc.Owner{UserID: &userID}, nil
	}
	if token := middleware.SessionTokenFromContext(r.Context()); token != "" {
		return cartsvc.Owner{SessionToken: &token}, nil
	}
	return cartsvc.Owner{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials or session token")
}

func parseIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}
