package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bankledger/internal/infrastructure/cache"
	"bankledger/internal/infrastructure/database"
	"bankledger/internal/ledger"
	"bankledger/internal/repository"
	"bankledger/internal/service"
	"bankledger/internal/testutil"
	"bankledger/pkg/idgen"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	log := zaptest.NewLogger(t)
	db := testutil.NewDB(t)
	ids, err := idgen.NewSnowflake(1)
	require.NoError(t, err)
	store := repository.NewLedgerStore(db, ids)
	for _, a := range []ledger.Account{{ID: 1, Limit: 100000}, {ID: 2, Limit: 80000}} {
		require.NoError(t, store.Provision(context.Background(), a))
	}

	_, client := testutil.NewRedis(t)
	extractCache := cache.NewExtractCache(client, time.Minute)
	reg := prometheus.NewRegistry()
	metrics := service.NewMetrics(reg)

	h := NewHandler(
		service.NewLedgerService(store, extractCache, metrics, log),
		service.NewExtractService(store, extractCache, metrics, log),
		log,
	)
	return SetupRouter(h, reg, log), db
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateTransaction(t *testing.T) {
	r, _ := newRouter(t)

	w := do(r, http.MethodPost, "/clientes/1/transacoes", `{"valor": 1000, "tipo": "d", "descricao": "padaria"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp TransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, TransactionResponse{Limite: 100000, Saldo: -1000}, resp)

	w = do(r, http.MethodPost, "/clientes/1/transacoes", `{"valor": 0, "tipo": "c", "descricao": "zero"}`)
	assert.Equal(t, http.StatusOK, w.Code, "zero amount is a valid transaction")
}

func TestCreateTransactionLimitExceeded(t *testing.T) {
	r, _ := newRouter(t)

	w := do(r, http.MethodPost, "/clientes/2/transacoes", `{"valor": 80001, "tipo": "d", "descricao": "carro"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(r, http.MethodGet, "/clientes/2/extrato", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp ExtractResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(0), resp.Saldo.Total)
}

func TestCreateTransactionValidation(t *testing.T) {
	r, _ := newRouter(t)

	cases := map[string]string{
		"fractional amount": `{"valor": 1.5, "tipo": "c", "descricao": "x"}`,
		"negative amount":   `{"valor": -1, "tipo": "c", "descricao": "x"}`,
		"missing amount":    `{"tipo": "c", "descricao": "x"}`,
		"unknown kind":      `{"valor": 1, "tipo": "x", "descricao": "x"}`,
		"empty description": `{"valor": 1, "tipo": "c", "descricao": ""}`,
		"long description":  `{"valor": 1, "tipo": "c", "descricao": "12345678901"}`,
		"null description":  `{"valor": 1, "tipo": "c", "descricao": null}`,
		"not json":          `valor=1`,
		"empty body":        ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/clientes/1/transacoes", body)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
		})
	}
}

func TestUnknownAccount(t *testing.T) {
	r, _ := newRouter(t)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/clientes/6/transacoes", `{"valor": 1, "tipo": "c", "descricao": "x"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/clientes/6/extrato", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/clientes/abc/extrato", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/clientes/0/transacoes", `{"valor": 1, "tipo": "c", "descricao": "x"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/clientes/1/transacoes", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/clientes/1/outra", "").Code)
}

func TestGetExtract(t *testing.T) {
	r, _ := newRouter(t)

	w := do(r, http.MethodGet, "/clientes/1/extrato", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ultimas_transacoes":[]`)

	for _, body := range []string{
		`{"valor": 10, "tipo": "c", "descricao": "um"}`,
		`{"valor": 20, "tipo": "d", "descricao": "dois"}`,
	} {
		require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/clientes/1/transacoes", body).Code)
	}

	w = do(r, http.MethodGet, "/clientes/1/extrato", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ExtractResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(-10), resp.Saldo.Total)
	assert.Equal(t, int64(100000), resp.Saldo.Limite)
	assert.False(t, resp.Saldo.DataExtrato.IsZero())
	require.Len(t, resp.UltimasTransacoes, 2)
	assert.Equal(t, "dois", resp.UltimasTransacoes[0].Descricao)
	assert.Equal(t, "d", resp.UltimasTransacoes[0].Tipo)
	assert.Equal(t, int64(20), resp.UltimasTransacoes[0].Valor)
	assert.Equal(t, "c", resp.UltimasTransacoes[1].Tipo)
	assert.True(t, resp.UltimasTransacoes[0].RealizadaEm.After(resp.UltimasTransacoes[1].RealizadaEm))
}

func TestStorageFailureIs500(t *testing.T) {
	r, db := newRouter(t)
	require.NoError(t, database.Close(db))

	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodPost, "/clientes/1/transacoes", `{"valor": 1, "tipo": "c", "descricao": "x"}`).Code)
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodGet, "/clientes/1/extrato", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	r, _ := newRouter(t)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/health", "").Code)

	do(r, http.MethodPost, "/clientes/1/transacoes", `{"valor": 1, "tipo": "c", "descricao": "x"}`)
	w := do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `ledger_apply_total{kind="credit",outcome="ok"} 1`)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="POST",route="/clientes/:id/transacoes",status="200"} 1`)
}
