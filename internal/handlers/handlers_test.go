package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sokoyetu/payments/internal/metrics"
	"github.com/sokoyetu/payments/internal/models"
	"github.com/sokoyetu/payments/internal/payment"
	"github.com/sokoyetu/payments/internal/session"
	"github.com/sokoyetu/payments/internal/store"
)

type fakeInitiator struct {
	calls []payment.InitiateRequest
	resp  *payment.InitiateResponse
	err   error
}

func (f *fakeInitiator) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResponse, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeHandlerStore struct {
	audits   []*models.CallbackAudit
	auditErr error
	listed   []models.Transaction
	tx       *models.Transaction
	getErr   error
}

func (f *fakeHandlerStore) SaveCallbackAudit(ctx context.Context, audit *models.CallbackAudit) error {
	if f.auditErr != nil {
		return f.auditErr
	}
	f.audits = append(f.audits, audit)
	return nil
}

func (f *fakeHandlerStore) List(ctx context.Context, filter store.ListFilter) ([]models.Transaction, error) {
	return f.listed, nil
}

func (f *fakeHandlerStore) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.tx, nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

type fakePinger struct{ err error }

func (f *fakePinger) Health(ctx context.Context) error { return f.err }

type handlerDeps struct {
	store     *fakeHandlerStore
	initiator *fakeInitiator
	queue     *fakeEnqueuer
	strictAck bool
}

func newTestHandler(d handlerDeps) *Handler {
	if d.store == nil {
		d.store = &fakeHandlerStore{}
	}
	if d.initiator == nil {
		d.initiator = &fakeInitiator{}
	}
	if d.queue == nil {
		d.queue = &fakeEnqueuer{}
	}
	return NewHandler(
		d.store,
		d.initiator,
		d.queue,
		session.NewCache(3*time.Hour),
		&fakePinger{},
		zap.NewNop().Sugar(),
		metrics.New(),
		d.strictAck,
	)
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) callbackAck {
	t.Helper()
	var ack callbackAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	return ack
}

func TestInitiatePaymentSuccess(t *testing.T) {
	initiator := &fakeInitiator{resp: &payment.InitiateResponse{
		CheckoutRequestID: "ws_CO_0001",
		MerchantRequestID: "29115-34620561-1",
		Timestamp:         "20240601120000",
	}}
	h := newTestHandler(handlerDeps{initiator: initiator})

	body := `{"phoneNumber":"0722000000","amount":10,"serviceType":"education","actionType":"Videos","userId":"user-1"}`
	rec := httptest.NewRecorder()
	h.InitiatePayment(rec, httptest.NewRequest(http.MethodPost, "/initiate", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.True(t, resp.Success)
	require.Empty(t, resp.Error)
	require.NotEmpty(t, resp.Timestamp)

	require.Len(t, initiator.calls, 1)
	req := initiator.calls[0]
	require.Equal(t, "0722000000", req.PhoneNumber)
	require.True(t, req.Amount.Equal(decimal.NewFromInt(10)))
	require.Equal(t, "education", req.ServiceType)
	require.Equal(t, "Videos", req.ActionType)
}

func TestInitiatePaymentMissingFieldRejected(t *testing.T) {
	bodies := []string{
		`{"amount":10,"serviceType":"jobs","actionType":"Continue"}`,
		`{"phoneNumber":"0722000000","serviceType":"jobs","actionType":"Continue"}`,
		`{"phoneNumber":"0722000000","amount":10,"actionType":"Continue"}`,
		`{"phoneNumber":"0722000000","amount":10,"serviceType":"jobs"}`,
	}

	for _, body := range bodies {
		initiator := &fakeInitiator{}
		h := newTestHandler(handlerDeps{initiator: initiator})

		rec := httptest.NewRecorder()
		h.InitiatePayment(rec, httptest.NewRequest(http.MethodPost, "/initiate", strings.NewReader(body)))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeEnvelope(t, rec)
		require.False(t, resp.Success)
		require.NotEmpty(t, resp.Error)
		require.Empty(t, initiator.calls, "initiator must not be reached for %s", body)
	}
}

func TestInitiatePaymentGatewayFailureIsStructured(t *testing.T) {
	h := newTestHandler(handlerDeps{initiator: &fakeInitiator{err: errors.New("gateway down")}})

	body := `{"phoneNumber":"0722000000","amount":10,"serviceType":"jobs","actionType":"Continue"}`
	rec := httptest.NewRecorder()
	h.InitiatePayment(rec, httptest.NewRequest(http.MethodPost, "/initiate", strings.NewReader(body)))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.False(t, resp.Success)
	require.NotEmpty(t, resp.Error)
}

const callbackBody = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_0001",
			"ResultCode": 0,
			"ResultDesc": "Success",
			"CallbackMetadata": {"Item": [{"Name": "MpesaReceiptNumber", "Value": "ABC123"}]}
		}
	}
}`

func TestGatewayCallbackAuditsAndEnqueues(t *testing.T) {
	st := &fakeHandlerStore{}
	q := &fakeEnqueuer{}
	h := newTestHandler(handlerDeps{store: st, queue: q})

	rec := httptest.NewRecorder()
	h.GatewayCallback(rec, httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(callbackBody)))

	require.Equal(t, http.StatusOK, rec.Code)
	ack := decodeAck(t, rec)
	require.Equal(t, 0, ack.ResultCode)
	require.Equal(t, "Success", ack.ResultDesc)

	// Audit row carries the verbatim payload.
	require.Len(t, st.audits, 1)
	require.Equal(t, "ws_CO_0001", st.audits[0].CheckoutRequestID)
	require.JSONEq(t, callbackBody, string(st.audits[0].Payload))

	// Reconciliation handed to the worker with the same raw payload.
	require.Len(t, q.tasks, 1)
	require.JSONEq(t, callbackBody, string(q.tasks[0].Payload()))
}

func TestGatewayCallbackMalformedRejected(t *testing.T) {
	st := &fakeHandlerStore{}
	q := &fakeEnqueuer{}
	h := newTestHandler(handlerDeps{store: st, queue: q})

	for _, body := range []string{"not-json", `{"Body":{}}`, `{}`} {
		rec := httptest.NewRecorder()
		h.GatewayCallback(rec, httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(body)))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		ack := decodeAck(t, rec)
		require.Equal(t, 1, ack.ResultCode)
		require.Equal(t, "Failed", ack.ResultDesc)
	}

	require.Empty(t, st.audits)
	require.Empty(t, q.tasks)
}

func TestGatewayCallbackAuditFailureBestEffortAck(t *testing.T) {
	st := &fakeHandlerStore{auditErr: errors.New("db down")}
	q := &fakeEnqueuer{}
	h := newTestHandler(handlerDeps{store: st, queue: q, strictAck: false})

	rec := httptest.NewRecorder()
	h.GatewayCallback(rec, httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(callbackBody)))

	// Default policy: swallow the internal error, still ack zero so the
	// gateway does not retry forever.
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, decodeAck(t, rec).ResultCode)
	require.Len(t, q.tasks, 1, "reconciliation still enqueued")
}

func TestGatewayCallbackAuditFailureStrictAck(t *testing.T) {
	st := &fakeHandlerStore{auditErr: errors.New("db down")}
	h := newTestHandler(handlerDeps{store: st, strictAck: true})

	rec := httptest.NewRecorder()
	h.GatewayCallback(rec, httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(callbackBody)))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, decodeAck(t, rec).ResultCode)
}

func TestListTransactions(t *testing.T) {
	st := &fakeHandlerStore{listed: []models.Transaction{
		{CheckoutRequestID: "ws_CO_0001", Status: models.StatusSuccess},
		{CheckoutRequestID: "ws_CO_0002", Status: models.StatusPending},
	}}
	h := newTestHandler(handlerDeps{store: st})

	rec := httptest.NewRecorder()
	h.ListTransactions(rec, httptest.NewRequest(http.MethodGet, "/transactions?status=success&limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.True(t, resp.Success)
}

func TestGetTransactionNotFound(t *testing.T) {
	st := &fakeHandlerStore{getErr: store.ErrNotFound}
	h := newTestHandler(handlerDeps{store: st})

	rec := httptest.NewRecorder()
	h.GetTransaction(rec, httptest.NewRequest(http.MethodGet, "/transactions/ws_CO_missing", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.False(t, decodeEnvelope(t, rec).Success)
}

func TestSessionEndpoints(t *testing.T) {
	h := newTestHandler(handlerDeps{})

	// Record a paid session.
	recordBody := `{"serviceType":"jobs","actionType":"Continue","phoneNumber":"254722000000","transactionId":"tx-1"}`
	rec := httptest.NewRecorder()
	h.RecordSession(rec, httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(recordBody)))
	require.Equal(t, http.StatusCreated, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	// Gate check sees it.
	checkReq := httptest.NewRequest(http.MethodGet, "/sessions/active?serviceType=jobs&actionType=Continue", nil)
	checkReq.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ActiveSession(rec, checkReq)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.True(t, resp.Success)

	var data map[string]bool
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &data))
	require.True(t, data["active"])

	// A different pair is not gated open.
	otherReq := httptest.NewRequest(http.MethodGet, "/sessions/active?serviceType=jobs&actionType=Apply", nil)
	otherReq.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ActiveSession(rec, otherReq)
	resp = decodeEnvelope(t, rec)
	raw, err = json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &data))
	require.False(t, data["active"])
}

func TestSessionRecordValidation(t *testing.T) {
	h := newTestHandler(handlerDeps{})

	rec := httptest.NewRecorder()
	h.RecordSession(rec, httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{"serviceType":"jobs"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthCheckDegraded(t *testing.T) {
	h := newTestHandler(handlerDeps{})
	h.db = &fakePinger{err: errors.New("down")}

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
