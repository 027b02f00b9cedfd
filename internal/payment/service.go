package payment

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sokoyetu/payments/internal/models"
	"github.com/sokoyetu/payments/internal/mpesa"
)

// ErrInvalidRequest marks initiation requests rejected before any
// outbound call is made.
var ErrInvalidRequest = errors.New("invalid initiation request")

// TokenSource supplies a gateway bearer token.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
}

// TransactionCreator persists the pending transaction record.
type TransactionCreator interface {
	CreatePending(ctx context.Context, tx *models.Transaction) error
}

// Config holds Daraja API configuration for initiation
type Config struct {
	ShortCode   string
	Passkey     string
	STKPushURL  string
	CallbackURL string
}

// Service initiates STK push payments
type Service struct {
	store  TransactionCreator
	tokens TokenSource
	cfg    Config
	client *http.Client
	now    func() time.Time
}

// NewService creates a new payment service
func NewService(store TransactionCreator, tokens TokenSource, cfg Config) *Service {
	return &Service{
		store:  store,
		tokens: tokens,
		cfg:    cfg,
		now:    time.Now,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
	}
}

// InitiateRequest is a payment initiation: who pays, how much, and the
// purpose (serviceType/actionType) of the purchase.
type InitiateRequest struct {
	PhoneNumber string
	Amount      decimal.Decimal
	ServiceType string
	ActionType  string
	UserID      string
}

// InitiateResponse is the gateway acknowledgement plus the local
// transaction id and timestamp.
type InitiateResponse struct {
	TransactionID       string `json:"transactionId"`
	CheckoutRequestID   string `json:"checkoutRequestId"`
	MerchantRequestID   string `json:"merchantRequestId"`
	ResponseDescription string `json:"responseDescription"`
	CustomerMessage     string `json:"customerMessage"`
	Timestamp           string `json:"timestamp"`
}

// stkPushRequest represents the Daraja STK Push API request
type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// stkPushResponse represents the Daraja STK Push API response
type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Initiate validates the request, pushes the payment prompt to the payer's
// phone, and records a pending transaction keyed by the gateway's checkout
// request id. Field validation happens before any network call; fractional
// amounts are floored to whole currency units.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	phone := mpesa.NormalizePhone(req.PhoneNumber)
	amount := req.Amount.Floor()
	timestamp := s.now().Format("20060102150405")

	ack, err := s.callSTKPush(ctx, phone, amount, models.BuildReference(req.ServiceType, req.ActionType), timestamp)
	if err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		CheckoutRequestID: ack.CheckoutRequestID,
		MerchantRequestID: ack.MerchantRequestID,
		PhoneNumber:       phone,
		Amount:            amount,
		ServiceType:       req.ServiceType,
		ActionType:        req.ActionType,
		UserID:            req.UserID,
	}

	if err := s.store.CreatePending(ctx, tx); err != nil {
		// The push already went out; without a pending row the callback
		// will reconcile against nothing but its audit record.
		return nil, fmt.Errorf("failed to record pending transaction: %w", err)
	}

	return &InitiateResponse{
		TransactionID:       tx.ID.String(),
		CheckoutRequestID:   ack.CheckoutRequestID,
		MerchantRequestID:   ack.MerchantRequestID,
		ResponseDescription: ack.ResponseDescription,
		CustomerMessage:     ack.CustomerMessage,
		Timestamp:           timestamp,
	}, nil
}

func (r InitiateRequest) validate() error {
	switch {
	case r.PhoneNumber == "":
		return fmt.Errorf("%w: phoneNumber is required", ErrInvalidRequest)
	case r.Amount.IsZero() || r.Amount.IsNegative():
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidRequest)
	case r.ServiceType == "":
		return fmt.Errorf("%w: serviceType is required", ErrInvalidRequest)
	case r.ActionType == "":
		return fmt.Errorf("%w: actionType is required", ErrInvalidRequest)
	}
	return nil
}

// callSTKPush calls the Daraja STK Push API
func (s *Service) callSTKPush(ctx context.Context, phone string, amount decimal.Decimal, reference, timestamp string) (*stkPushResponse, error) {
	token, err := s.tokens.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	password := base64.StdEncoding.EncodeToString(
		[]byte(s.cfg.ShortCode + s.cfg.Passkey + timestamp),
	)

	stkReq := stkPushRequest{
		BusinessShortCode: s.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount.StringFixed(0),
		PartyA:            phone,
		PartyB:            s.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       s.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   reference,
	}

	body, err := json.Marshal(stkReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal STK request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.STKPushURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send STK push: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("STK push failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var stkResp stkPushResponse
	if err := json.Unmarshal(respBody, &stkResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if stkResp.ResponseCode != "0" {
		return nil, fmt.Errorf("STK push rejected: %s", stkResp.ResponseDescription)
	}

	return &stkResp, nil
}
