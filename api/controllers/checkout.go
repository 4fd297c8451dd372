package controllers

import (
	"net/http"

	"github.com/shoplane-labs/shoplane-backend/api/responses"
	"github.com/shoplane-labs/shoplane-backend/api/validators"
	checkoutsvc "github.com/shoplane-labs/shoplane-backend/internal/checkout"
	"github.com/shoplane-labs/shoplane-backend/pkg/logger"
)

type checkoutRequest struct {
	ShippingAddress    string `json:"shipping_address" validate:"required"`
	ShippingCity       string `json:"shipping_city" validate:"required"`
	ShippingPostalCode string `json:"shipping_postal_code"`
	ShippingCountry    string `json:"shipping_country"`
	Notes              string `json:"notes" validate:"max=1000"`
}

// Checkout turns the caller's cart into a pending order.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Execute(r.Context(), userID, checkoutsvc.Input{
			ShippingAddress:    validators.SanitizeString(payload.ShippingAddress, 500),
			ShippingCity:       validators.SanitizeString(payload.ShippingCity, 120),
			ShippingPostalCode: validators.SanitizeString(payload.ShippingPostalCode, 20),
			ShippingCountry:    validators.SanitizeString(payload.ShippingCountry, 60),
			Notes:              validators.SanitizeString(payload.Notes, 1000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}
