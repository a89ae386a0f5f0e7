package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/carebound/carebound/internal/rail/adapters"
	raildomain "github.com/carebound/carebound/internal/rail/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewAdapter(cfg adapters.AdapterConfig) (raildomain.Rail, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, raildomain.ErrInvalidConfig
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}

	return &Adapter{
		apiKey:        strings.TrimSpace(cfg.APIKey),
		baseURL:       baseURL,
		webhookSecret: secret,
		client:        &http.Client{Timeout: 12 * time.Second},
	}, nil
}

type Adapter struct {
	apiKey        string
	baseURL       string
	webhookSecret string
	client        *http.Client
}

func (a *Adapter) Provider() string { return "stripe" }

func (a *Adapter) CreateTransfer(ctx context.Context, req raildomain.TransferRequest) (raildomain.TransferResult, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	values.Set("currency", "usd")
	values.Set("destination", req.DestinationAccount)

	var transfer stripeTransfer
	if err := a.doRequest(ctx, http.MethodPost, "/v1/transfers", values, req.IdempotencyKey, &transfer); err != nil {
		return raildomain.TransferResult{}, err
	}
	if strings.TrimSpace(transfer.ID) == "" {
		return raildomain.TransferResult{}, raildomain.ErrInvalidPayload
	}
	return raildomain.TransferResult{TransferID: transfer.ID}, nil
}

func (a *Adapter) AccountStatus(ctx context.Context, account string) (raildomain.AccountStatus, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return raildomain.AccountStatus{}, raildomain.ErrInvalidConfig
	}

	var resp stripeAccount
	if err := a.doRequest(ctx, http.MethodGet, "/v1/accounts/"+account, nil, "", &resp); err != nil {
		return raildomain.AccountStatus{}, err
	}
	return raildomain.AccountStatus{
		ChargesEnabled: resp.ChargesEnabled,
		PayoutsEnabled: resp.PayoutsEnabled,
	}, nil
}

func (a *Adapter) Balance(ctx context.Context) (raildomain.Balance, error) {
	var resp stripeBalance
	if err := a.doRequest(ctx, http.MethodGet, "/v1/balance", nil, "", &resp); err != nil {
		return raildomain.Balance{}, err
	}

	balance := raildomain.Balance{}
	for _, bucket := range resp.Available {
		balance.AvailableCents += bucket.Amount
	}
	for _, bucket := range resp.Pending {
		balance.PendingCents += bucket.Amount
	}
	return balance, nil
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return raildomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return raildomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return raildomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*raildomain.RailEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, raildomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, raildomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "transfer.paid", "payout.paid":
		return a.parseTransfer(event, payload, raildomain.EventTypeTransferCompleted)
	case "transfer.failed", "payout.failed":
		return a.parseTransfer(event, payload, raildomain.EventTypeTransferFailed)
	case "charge.refunded":
		return a.parseRefund(event, payload)
	default:
		return nil, raildomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeTransfer struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	Created        int64  `json:"created"`
	FailureCode    string `json:"failure_code"`
	FailureMessage string `json:"failure_message"`
}

type stripeCharge struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Created        int64  `json:"created"`
}

type stripeAccount struct {
	ChargesEnabled bool `json:"charges_enabled"`
	PayoutsEnabled bool `json:"payouts_enabled"`
}

type stripeBalance struct {
	Available []stripeBalanceBucket `json:"available"`
	Pending   []stripeBalanceBucket `json:"pending"`
}

type stripeBalanceBucket struct {
	Amount int64 `json:"amount"`
}

type stripeErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) parseTransfer(event stripeEvent, payload []byte, eventType string) (*raildomain.RailEvent, error) {
	var transfer stripeTransfer
	if err := json.Unmarshal(event.Data.Object, &transfer); err != nil {
		return nil, raildomain.ErrInvalidPayload
	}
	if strings.TrimSpace(transfer.ID) == "" {
		return nil, raildomain.ErrInvalidEvent
	}

	failureReason := strings.TrimSpace(transfer.FailureCode)
	if failureReason == "" {
		failureReason = strings.TrimSpace(transfer.FailureMessage)
	}

	return &raildomain.RailEvent{
		Provider:        "stripe",
		ExternalEventID: event.ID,
		EventType:       eventType,
		TransferID:      transfer.ID,
		AmountCents:     transfer.Amount,
		FailureReason:   failureReason,
		OccurredAt:      timestamp(transfer.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func (a *Adapter) parseRefund(event stripeEvent, payload []byte) (*raildomain.RailEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, raildomain.ErrInvalidPayload
	}
	if strings.TrimSpace(charge.ID) == "" {
		return nil, raildomain.ErrInvalidEvent
	}

	amount := charge.AmountRefunded
	if amount <= 0 {
		amount = charge.Amount
	}

	return &raildomain.RailEvent{
		Provider:        "stripe",
		ExternalEventID: event.ID,
		EventType:       raildomain.EventTypeChargeRefunded,
		TransferID:      charge.ID,
		AmountCents:     amount,
		OccurredAt:      timestamp(charge.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func (a *Adapter) doRequest(ctx context.Context, method, path string, values url.Values, idempotencyKey string, out any) error {
	if a.apiKey == "" {
		return raildomain.ErrInvalidConfig
	}

	body := ""
	if values != nil {
		body = values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("stripe: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return &raildomain.RejectionError{Reason: "http_" + strconv.Itoa(resp.StatusCode)}
		}
		reason := strings.TrimSpace(stripeErr.Error.Code)
		if reason == "" {
			reason = strings.TrimSpace(stripeErr.Error.Message)
		}
		return &raildomain.RejectionError{Reason: reason}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
