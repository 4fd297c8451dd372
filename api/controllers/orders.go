package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shoplane-labs/shoplane-backend/api/responses"
	"github.com/shoplane-labs/shoplane-backend/api/validators"
	internalorders "github.com/shoplane-labs/shoplane-backend/internal/orders"
	"github.com/shoplane-labs/shoplane-backend/pkg/db/models"
	"github.com/shoplane-labs/shoplane-backend/pkg/enums"
	pkgerrors "github.com/shoplane-labs/shoplane-backend/pkg/errors"
	"github.com/shoplane-labs/shoplane-backend/pkg/logger"
	"github.com/shoplane-labs/shoplane-backend/pkg/pagination"
)

// OrderList returns a cursor page of the caller's orders, newest first.
func OrderList(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), userID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]orderResponse, 0, len(list.Orders))
		for i := range list.Orders {
			items = append(items, newOrderResponse(&list.Orders[i]))
		}

		responses.WriteSuccess(w, orderListResponse{
			Orders:     items,
			NextCursor: list.NextCursor,
		})
	}
}

// OrderDetail returns one order owned by the caller.
func OrderDetail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
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

		order, err := svc.Get(r.Context(), userID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// OrderCancel cancels a pending or processing order.
func OrderCancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
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

		order, err := svc.Cancel(r.Context(), userID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type advanceOrderRequest struct {
	Status         string  `json:"status" validate:"required"`
	TrackingNumber *string `json:"tracking_number"`
}

// OrderAdvance moves an order along the fulfillment path. The order must
// belong to the caller; the transition table enforces the rest.
func OrderAdvance(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
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

		var payload advanceOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		target, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		if _, err := svc.Get(r.Context(), userID, orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Advance(r.Context(), internalorders.AdvanceInput{
			OrderID:        orderID,
			Target:         target,
			TrackingNumber: payload.TrackingNumber,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type orderListResponse struct {
	Orders     []orderResponse `json:"orders"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type orderResponse struct {
	ID                 uuid.UUID           `json:"id"`
	Status             string              `json:"status"`
	ShippingAddress    string              `json:"shipping_address"`
	ShippingCity       string              `json:"shipping_city"`
	ShippingPostalCode string              `json:"shipping_postal_code,omitempty"`
	ShippingCountry    string              `json:"shipping_country"`
	Notes              string              `json:"notes,omitempty"`
	TrackingNumber     string              `json:"tracking_number,omitempty"`
	TotalAmount        string              `json:"total_amount"`
	TotalItems         int                 `json:"total_items"`
	Items              []orderItemResponse `json:"items"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

type orderItemResponse struct {
	ProductID   *uuid.UUID `json:"product_id,omitempty"`
	ProductName string     `json:"product_name"`
	ProductSKU  string     `json:"product_sku,omitempty"`
	Price       string     `json:"price"`
	Quantity    int        `json:"quantity"`
	Subtotal    string     `json:"subtotal"`
}

func newOrderResponse(order *models.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductSKU:  item.ProductSKU,
			Price:       item.Price.StringFixed(2),
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal().StringFixed(2),
		})
	}

	return orderResponse{
		ID:                 order.ID,
		Status:             order.Status.String(),
		ShippingAddress:    order.ShippingAddress,
		ShippingCity:       order.ShippingCity,
		ShippingPostalCode: order.ShippingPostalCode,
		ShippingCountry:    order.ShippingCountry,
		Notes:              order.Notes,
		TrackingNumber:     order.TrackingNumber,
		TotalAmount:        order.TotalAmount().StringFixed(2),
		TotalItems:         order.TotalItems(),
		Items:              items,
		CreatedAt:          order.CreatedAt,
		UpdatedAt:          order.UpdatedAt,
	}
}
