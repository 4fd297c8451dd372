package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	internalorders "github.com/shoplane-labs/shoplane-backend/internal/orders"
	"github.com/shoplane-labs/shoplane-backend/pkg/db/models"
	"github.com/shoplane-labs/shoplane-backend/pkg/enums"
	pkgerrors "github.com/shoplane-labs/shoplane-backend/pkg/errors"
	"github.com/shoplane-labs/shoplane-backend/pkg/pagination"
)

type stubOrdersService struct {
	order       *models.Order
	list        *internalorders.OrderList
	err         error
	lastAdvance internalorders.AdvanceInput
	lastParams  pagination.Params
}

func (s *stubOrdersService) List(_ context.Context, _ uuid.UUID, params pagination.Params) (*internalorders.OrderList, error) {
	s.lastParams = params
	return s.list, s.err
}

func (s *stubOrdersService) Get(_ context.Context, _, _ uuid.UUID) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubOrdersService) Cancel(_ context.Context, _, _ uuid.UUID) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubOrdersService) Advance(_ context.Context, input internalorders.AdvanceInput) (*models.Order, error) {
	s.lastAdvance = input
	return s.order, s.err
}

func ordersRouter(svc internalorders.Service) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/orders", OrderList(svc, nil))
	r.Get("/api/v1/orders/{orderId}", OrderDetail(svc, nil))
	r.Post("/api/v1/orders/{orderId}/cancel", OrderCancel(svc, nil))
	r.Post("/api/v1/orders/{orderId}/advance", OrderAdvance(svc, nil))
	return r
}

func TestOrderListPassesPagination(t *testing.T) {
	stub := &stubOrdersService{list: &internalorders.OrderList{NextCursor: "abc"}}
	router := ordersRouter(stub)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=5&cursor=xyz", nil), uuid.New())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if stub.lastParams.Limit != 5 || stub.lastParams.Cursor != "xyz" {
		t.Fatalf("pagination params not forwarded: %+v", stub.lastParams)
	}

	var envelope struct {
		Data orderListResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.NextCursor != "abc" {
		t.Fatalf("expected cursor in payload, got %q", envelope.Data.NextCursor)
	}
}

func TestOrderListRejectsOversizedLimit(t *testing.T) {
	stub := &stubOrdersService{list: &internalorders.OrderList{}}
	router := ordersRouter(stub)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=5000", nil), uuid.New())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestOrderCancelMapsStateConflict(t *testing.T) {
	stub := &stubOrdersService{err: pkgerrors.New(pkgerrors.CodeStateConflict, "invalid status transition").
		WithDetails(map[string]string{"from": "SHIPPED", "to": "CANCELLED"})}
	router := ordersRouter(stub)

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+uuid.NewString()+"/cancel", nil), uuid.New())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}

	var envelope struct {
		Error struct {
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Details["from"] != "SHIPPED" {
		t.Fatalf("expected transition details, got %v", envelope.Error.Details)
	}
}

func TestOrderAdvanceParsesTarget(t *testing.T) {
	orderID := uuid.New()
	stub := &stubOrdersService{order: &models.Order{ID: orderID, Status: enums.OrderStatusShipped}}
	router := ordersRouter(stub)

	body := `{"status":"SHIPPED","tracking_number":"TRACK-9"}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/advance", strings.NewReader(body)), uuid.New())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if stub.lastAdvance.OrderID != orderID || stub.lastAdvance.Target != enums.OrderStatusShipped {
		t.Fatalf("unexpected advance input %+v", stub.lastAdvance)
	}
	if stub.lastAdvance.TrackingNumber == nil || *stub.lastAdvance.TrackingNumber != "TRACK-9" {
		t.Fatalf("tracking number not forwarded")
	}
}

func TestOrderAdvanceRejectsUnknownStatus(t *testing.T) {
	stub := &stubOrdersService{order: &models.Order{ID: uuid.New()}}
	router := ordersRouter(stub)

	body := `{"status":"TELEPORTED"}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+uuid.NewString()+"/advance", strings.NewReader(body)), uuid.New())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if stub.lastAdvance.OrderID != uuid.Nil {
		t.Fatalf("service must not be called for unknown status")
	}
}

func TestOrderDetailInvalidID(t *testing.T) {
	stub := &stubOrdersService{order: &models.Order{}}
	router := ordersRouter(stub)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/orders/not-a-uuid", nil), uuid.New())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
