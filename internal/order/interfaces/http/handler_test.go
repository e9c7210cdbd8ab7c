package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	invapp "github.com/wyfcoding/onlinestore/internal/inventory/application"
	invmysql "github.com/wyfcoding/onlinestore/internal/inventory/infrastructure/persistence/mysql"
	"github.com/wyfcoding/onlinestore/internal/order/application"
	"github.com/wyfcoding/onlinestore/internal/order/infrastructure/messaging"
	ordermysql "github.com/wyfcoding/onlinestore/internal/order/infrastructure/persistence/mysql"
	"github.com/wyfcoding/onlinestore/pkg/db"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details map[string]any  `json:"details"`
}

type orderView struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func newRouter(t *testing.T) (*gin.Engine, *invapp.Ledger) {
	t.Helper()
	d, err := db.Init(db.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "http.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, invmysql.AutoMigrate(d.DB))
	require.NoError(t, ordermysql.AutoMigrate(d.DB))
	require.NoError(t, messaging.AutoMigrate(d.DB))

	stocks := invmysql.NewStockRepository(d.DB)
	ledger := invapp.NewLedger(stocks, invmysql.NewReconciliationRepository(d.DB), nil, nil)
	repo := ordermysql.NewOrderRepository(d.DB)
	events := messaging.NewOutboxEventPublisher(d.DB)

	seq := 0
	orch := application.NewOrchestrator(repo, events, d, ledger, nil, application.Options{
		Retry:      db.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		NewOrderID: func() string { seq++; return "ORD-" + strconv.Itoa(seq) },
	})
	h := NewOrderHandler(orch,
		application.NewOrderCommandService(repo, events, d, ledger, nil, nil),
		application.NewOrderQueryService(repo),
	)

	r := gin.New()
	h.RegisterRoutes(&r.RouterGroup)
	return r, ledger
}

func do(r *gin.Engine, method, path, key string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) (envelope, orderView) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var view orderView
	if len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, &view))
	}
	return env, view
}

func orderBody(pid string, qty int64) map[string]any {
	return map[string]any{"items": []map[string]any{{"product_id": pid, "quantity": qty, "unit_price": "9.99"}}}
}

func TestCreateOrderAndReplay(t *testing.T) {
	r, ledger := newRouter(t)
	require.NoError(t, ledger.Register(context.Background(), "P1", 3))

	rec := do(r, http.MethodPost, "/api/v1/orders", "key-1", orderBody("P1", 2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	_, created := decode(t, rec)
	assert.Equal(t, "CREATED", created.Status)
	assert.Empty(t, rec.Header().Get(ReplayedHeader))

	rec = do(r, http.MethodPost, "/api/v1/orders", "key-1", orderBody("P1", 2))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(ReplayedHeader))
	_, replayed := decode(t, rec)
	assert.Equal(t, created.OrderID, replayed.OrderID)

	rec = do(r, http.MethodGet, "/api/v1/orders/"+created.OrderID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateOrderErrors(t *testing.T) {
	r, ledger := newRouter(t)
	require.NoError(t, ledger.Register(context.Background(), "P1", 1))

	rec := do(r, http.MethodPost, "/api/v1/orders", "", orderBody("P1", 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/api/v1/orders", "k", orderBody("P1", 0))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env, _ := decode(t, rec)
	assert.Equal(t, "invalid_quantity", env.Code)

	rec = do(r, http.MethodPost, "/api/v1/orders", "k", orderBody("P1", 2))
	assert.Equal(t, http.StatusConflict, rec.Code)
	env, _ = decode(t, rec)
	assert.Equal(t, "insufficient_stock", env.Code)
	assert.Equal(t, "P1", env.Details["product_id"])
	assert.EqualValues(t, 1, env.Details["available"])

	rec = do(r, http.MethodPost, "/api/v1/orders", "k2", orderBody("MISSING", 1))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, http.MethodGet, "/api/v1/orders/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderTransitions(t *testing.T) {
	r, ledger := newRouter(t)
	ctx := context.Background()
	require.NoError(t, ledger.Register(ctx, "P1", 2))

	rec := do(r, http.MethodPost, "/api/v1/orders", "k", orderBody("P1", 2))
	require.Equal(t, http.StatusCreated, rec.Code)
	_, created := decode(t, rec)

	rec = do(r, http.MethodPost, "/api/v1/orders/"+created.OrderID+"/cancel", "", map[string]string{"reason": "changed mind"})
	require.Equal(t, http.StatusOK, rec.Code)
	_, view := decode(t, rec)
	assert.Equal(t, "CANCELLED", view.Status)

	left, err := ledger.Available(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), left)

	rec = do(r, http.MethodPost, "/api/v1/orders/"+created.OrderID+"/pay", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
