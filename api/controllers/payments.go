package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shoplane-labs/shoplane-backend/api/responses"
	paymentsvc "github.com/shoplane-labs/shoplane-backend/internal/payments"
	"github.com/shoplane-labs/shoplane-backend/pkg/db/models"
	"github.com/shoplane-labs/shoplane-backend/pkg/logger"
)

// PaymentCreateIntent opens (or returns) the gateway intent for an order.
func PaymentCreateIntent(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := parseIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.CreateIntent(r.Context(), userID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newPaymentResponse(payment, true))
	}
}

// PaymentReconcile pulls the gateway's view of the intent and folds it into
// the local payment and order.
func PaymentReconcile(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intentID := strings.TrimSpace(chi.URLParam(r, "intentId"))
		payment, err := svc.Reconcile(r.Context(), userID, intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newPaymentResponse(payment, false))
	}
}

// PaymentDetail returns the payment attached to the caller's order.
func PaymentDetail(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := parseIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Get(r.Context(), userID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newPaymentResponse(payment, false))
	}
}

// PaymentList returns every payment across the caller's orders.
func PaymentList(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payments, err := svc.List(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]paymentResponse, 0, len(payments))
		for i := range payments {
			items = append(items, newPaymentResponse(&payments[i], false))
		}
		responses.WriteSuccess(w, paymentListResponse{Payments: items})
	}
}

type paymentListResponse struct {
	Payments []paymentResponse `json:"payments"`
}

type paymentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	OrderID            uuid.UUID  `json:"order_id"`
	Amount             string     `json:"amount"`
	Currency           string     `json:"currency"`
	Status             string     `json:"status"`
	ClientSecret       string     `json:"client_secret,omitempty"`
	PaymentMethodType  string     `json:"payment_method_type,omitempty"`
	PaymentMethodLast4 string     `json:"payment_method_last4,omitempty"`
	FailureMessage     string     `json:"failure_message,omitempty"`
	PaidAt             *time.Time `json:"paid_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// newPaymentResponse exposes the client secret only on intent creation; the
// frontend needs it once to confirm the payment and never again.
func newPaymentResponse(payment *models.Payment, includeSecret bool) paymentResponse {
	resp := paymentResponse{
		ID:                 payment.ID,
		OrderID:            payment.OrderID,
		Amount:             payment.Amount.StringFixed(2),
		Currency:           payment.Currency.String(),
		Status:             payment.Status.String(),
		PaymentMethodType:  payment.PaymentMethodType,
		PaymentMethodLast4: payment.PaymentMethodLast4,
		FailureMessage:     payment.FailureMessage,
		PaidAt:             payment.PaidAt,
		CreatedAt:          payment.CreatedAt,
	}
	if includeSecret {
		resp.ClientSecret = payment.ClientSecret
	}
	return resp
}
