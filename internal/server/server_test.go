package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	payeedomain "github.com/carebound/carebound/internal/payee/domain"
	raildomain "github.com/carebound/carebound/internal/rail/domain"
	webhookdomain "github.com/carebound/carebound/internal/webhook/domain"
	"github.com/gin-gonic/gin"
)

type fakeGateway struct {
	receiveErr    error
	receivedCalls int
	lastProvider  string
	lastPayload   []byte
}

func (f *fakeGateway) Receive(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	f.receivedCalls++
	f.lastProvider = provider
	f.lastPayload = payload
	_ = ctx
	_ = headers
	return f.receiveErr
}

func (f *fakeGateway) RetryDue(ctx context.Context, limit int) (int, error) {
	_ = ctx
	_ = limit
	return 0, nil
}

func (f *fakeGateway) ListForReview(ctx context.Context, limit int) ([]webhookdomain.WebhookEvent, error) {
	_ = ctx
	_ = limit
	return nil, nil
}

type fakePayeeService struct {
	createCalls int
	createErr   error
	lastCreate  payeedomain.CreatePayeeRequest
	getErr      error
}

func (f *fakePayeeService) Create(ctx context.Context, req payeedomain.CreatePayeeRequest) (payeedomain.Payee, error) {
	f.createCalls++
	f.lastCreate = req
	_ = ctx
	if f.createErr != nil {
		return payeedomain.Payee{}, f.createErr
	}
	return payeedomain.Payee{ID: snowflake.ID(100), Name: req.Name}, nil
}

func (f *fakePayeeService) GetByID(ctx context.Context, id string) (payeedomain.Payee, error) {
	_ = ctx
	_ = id
	if f.getErr != nil {
		return payeedomain.Payee{}, f.getErr
	}
	return payeedomain.Payee{ID: snowflake.ID(100)}, nil
}

func (f *fakePayeeService) List(ctx context.Context, req payeedomain.ListPayeeRequest) (payeedomain.ListPayeeResponse, error) {
	_ = ctx
	_ = req
	return payeedomain.ListPayeeResponse{}, nil
}

func (f *fakePayeeService) UpdatePayoutAccount(ctx context.Context, req payeedomain.UpdatePayoutAccountRequest) (payeedomain.Payee, error) {
	_ = ctx
	_ = req
	return payeedomain.Payee{}, nil
}

func (f *fakePayeeService) UpdateCompliance(ctx context.Context, req payeedomain.ComplianceUpdateRequest) (payeedomain.Payee, error) {
	_ = ctx
	_ = req
	return payeedomain.Payee{}, nil
}

func (f *fakePayeeService) Suspend(ctx context.Context, id string) (payeedomain.Payee, error) {
	_ = ctx
	_ = id
	return payeedomain.Payee{}, nil
}

func (f *fakePayeeService) Reinstate(ctx context.Context, id string) (payeedomain.Payee, error) {
	_ = ctx
	_ = id
	return payeedomain.Payee{}, nil
}

func TestHandleRailWebhookAcksValidDelivery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	gateway := &fakeGateway{}
	srv := &Server{gateway: gateway}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/webhooks/:provider", srv.HandleRailWebhook)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if gateway.receivedCalls != 1 {
		t.Fatalf("expected 1 gateway call, got %d", gateway.receivedCalls)
	}
	if gateway.lastProvider != "stripe" {
		t.Fatalf("expected provider stripe, got %q", gateway.lastProvider)
	}
	if !bytes.Contains(gateway.lastPayload, []byte("evt_1")) {
		t.Fatal("expected raw payload to reach the gateway")
	}
}

func TestHandleRailWebhookRejectsBadSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)

	gateway := &fakeGateway{receiveErr: raildomain.ErrInvalidSignature}
	srv := &Server{gateway: gateway}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/webhooks/:provider", srv.HandleRailWebhook)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestCreatePayeeTrimsFieldsAndReturnsData(t *testing.T) {
	gin.SetMode(gin.TestMode)

	payeeSvc := &fakePayeeService{}
	srv := &Server{payeeSvc: payeeSvc}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/admin/payees", srv.CreatePayee)

	body := `{"type":"caregiver","name":" Dana Reyes ","email":" dana@example.com ","rail_account_id":"acct_1"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/payees", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if payeeSvc.createCalls != 1 {
		t.Fatalf("expected 1 create call, got %d", payeeSvc.createCalls)
	}
	if payeeSvc.lastCreate.Name != "Dana Reyes" {
		t.Fatalf("expected trimmed name, got %q", payeeSvc.lastCreate.Name)
	}
	if payeeSvc.lastCreate.Email != "dana@example.com" {
		t.Fatalf("expected trimmed email, got %q", payeeSvc.lastCreate.Email)
	}

	var parsed struct {
		Data payeedomain.Payee `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if parsed.Data.Name != "Dana Reyes" {
		t.Fatalf("expected payee in data envelope, got %+v", parsed.Data)
	}
}

func TestCreatePayeeMapsValidationError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	payeeSvc := &fakePayeeService{createErr: payeedomain.ErrInvalidEmail}
	srv := &Server{payeeSvc: payeeSvc}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/admin/payees", srv.CreatePayee)

	req := httptest.NewRequest(http.MethodPost, "/admin/payees", strings.NewReader(`{"type":"caregiver","name":"Dana"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}

	var parsed errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if parsed.Error.Type != "validation_error" {
		t.Fatalf("expected validation_error, got %q", parsed.Error.Type)
	}
	if len(parsed.Error.Errors) != 1 || parsed.Error.Errors[0].Code != "invalid_email" {
		t.Fatalf("expected invalid_email detail, got %+v", parsed.Error.Errors)
	}
}

func TestGetPayeeMapsNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	payeeSvc := &fakePayeeService{getErr: payeedomain.ErrNotFound}
	srv := &Server{payeeSvc: payeeSvc}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/admin/payees/:id", srv.GetPayeeByID)

	req := httptest.NewRequest(http.MethodGet, "/admin/payees/123", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}
