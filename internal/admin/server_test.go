package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ton-escrow-ledger-go/internal/api"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	status    *api.StatusResponse
	healthErr error
	balances  map[string]*api.BalanceResponse
}

func (f *fakeLedger) Status(context.Context) (*api.StatusResponse, error) {
	if f.status == nil {
		return nil, &api.Error{Kind: api.KindSystem, Code: api.CodeUnavailable, Message: "failed to read system status"}
	}
	return f.status, nil
}

func (f *fakeLedger) HealthCheck(context.Context) error { return f.healthErr }

func (f *fakeLedger) GetBalanceByAddress(_ context.Context, address string) (*api.BalanceResponse, error) {
	if b, ok := f.balances[address]; ok {
		return b, nil
	}
	return nil, &api.Error{Kind: api.KindClient, Code: api.CodeNotFound, Message: "no user registered for address " + address}
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	ledger := &fakeLedger{}
	router := NewServer(":0", ledger).Router()

	rec := get(t, router, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	ledger.healthErr = &api.Error{Kind: api.KindSystem, Code: api.CodeUnavailable, Message: "indexer health check failed"}
	rec = get(t, router, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, api.CodeUnavailable, body.Code)

	ledger.healthErr = errors.New("unclassified")
	rec = get(t, router, "/healthz")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	router := NewServer(":0", &fakeLedger{status: &api.StatusResponse{
		Checkpoint:    47000000000003,
		LastSuccessAt: &now,
		MonitorStatus: "running",
		ApiStatus:     "healthy",
		DbStatus:      "healthy",
	}}).Router()

	rec := get(t, router, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status api.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, uint64(47000000000003), status.Checkpoint)
	assert.Equal(t, "running", status.MonitorStatus)

	rec = get(t, NewServer(":0", &fakeLedger{}).Router(), "/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBalance(t *testing.T) {
	router := NewServer(":0", &fakeLedger{balances: map[string]*api.BalanceResponse{
		"wallet-a": {UserId: "u1", Balance: decimal.RequireFromString("2.5"), DepositCount: 1},
	}}).Router()

	rec := get(t, router, "/balance/wallet-a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance":"2.5"`)

	rec = get(t, router, "/balance/wallet-b")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsAndMethods(t *testing.T) {
	router := NewServer(":0", &fakeLedger{}).Router()

	rec := get(t, router, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))

	post := httptest.NewRecorder()
	router.ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, post.Code)
}

func TestRun_StopsOnCancel(t *testing.T) {
	server := NewServer("127.0.0.1:0", &fakeLedger{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("admin server did not stop")
	}
}
