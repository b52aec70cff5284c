package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tiller/internal/allocation"
	"tiller/internal/pkg/circuit"
	"tiller/internal/store/memstore"
	"tiller/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	lastOpp  types.Opportunity
	decision allocation.Decision
	err      error
}

func (s *stubService) EvaluateOpportunity(_ context.Context, opp types.Opportunity) (allocation.Decision, error) {
	s.lastOpp = opp
	return s.decision, s.err
}

func (s *stubService) GetAccountSnapshot(_ context.Context) (types.AccountSnapshot, error) {
	return types.AccountSnapshot{Denomination: "USDT", Total: 1000, Available: 600}, nil
}

func (s *stubService) ListOpenPositions(_ context.Context) ([]types.Position, error) {
	return []types.Position{{ID: "p1", Symbol: "BTCUSDT", Status: types.PositionOpen, OpenedAt: time.Now()}}, nil
}

func (s *stubService) CheckExits(_ context.Context) ([]allocation.ExitResult, error) {
	return nil, nil
}

func testRouter(t *testing.T, svc *stubService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registry := circuit.NewRegistry()
	registry.Register("broker.order", 3, time.Minute)
	router := gin.New()
	NewHandlers(svc, registry, memstore.New()).Register(router.Group("/api/v1"))
	return router
}

func TestOpportunityEndpointCoercesPayload(t *testing.T) {
	svc := &stubService{decision: allocation.Decision{TraceID: "t1", Admitted: true}}
	router := testRouter(t, svc)

	// Numbers arrive as strings from some signal sources.
	body := `{"symbol":"btcusdt","side":"buy","current_price":"50000","win_probability":"0.6","confidence":0.8}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/opportunities", strings.NewReader(body))
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "BTCUSDT", svc.lastOpp.Symbol)
	assert.Equal(t, types.SideLong, svc.lastOpp.Side)
	assert.Equal(t, 50000.0, svc.lastOpp.CurrentPrice)
	assert.Equal(t, 0.6, svc.lastOpp.WinProbability)

	var decision allocation.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.True(t, decision.Admitted)
}

func TestOpportunityEndpointRejectsBadPayloads(t *testing.T) {
	router := testRouter(t, &stubService{})

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"symbol":`},
		{"missing symbol", `{"current_price":100,"win_probability":0.5}`},
		{"bad side", `{"symbol":"X","side":"sideways","current_price":100,"win_probability":0.5}`},
		{"no price", `{"symbol":"X","win_probability":0.5}`},
		{"probability out of range", `{"symbol":"X","current_price":100,"win_probability":1.2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/opportunities", strings.NewReader(tc.body))
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestOpportunityEndpointStoppedController(t *testing.T) {
	router := testRouter(t, &stubService{err: allocation.ErrControllerStopped})

	w := httptest.NewRecorder()
	body := `{"symbol":"X","current_price":100,"win_probability":0.5}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/opportunities", strings.NewReader(body))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAccountAndPositionsEndpoints(t *testing.T) {
	router := testRouter(t, &stubService{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/account", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var snap types.AccountSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 600.0, snap.Available)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "BTCUSDT")
}

func TestBreakerEndpoints(t *testing.T) {
	router := testRouter(t, &stubService{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/breakers", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "broker.order")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/breakers/broker.order/reset", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/breakers/nope/reset", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
