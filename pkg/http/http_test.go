package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/pkg/logger"
)

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "BTC", r.URL.Query().Get("symbol"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"funding":{"rate":0.01}}`))
	}))
	defer srv.Close()

	c := NewClient(WithRetry(2, time.Millisecond), WithHeader("X-API-Key", "secret"))
	var out map[string]any
	err := c.SendAndParse(context.Background(), &RequestOptions{
		URL:         srv.URL,
		QueryParams: map[string][]string{"symbol": {"BTC"}},
	}, &out)

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)
	assert.Contains(t, out, "funding")
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "no such symbol", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(WithRetry(3, time.Millisecond))
	err := c.SendAndParse(context.Background(), &RequestOptions{URL: srv.URL}, nil)

	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.Equal(t, int32(1), calls)
}

type horizonReq struct {
	Horizon string `json:"horizon" default:"24h" validate:"required,horizon"`
	Limit   int    `json:"limit" default:"10" validate:"gte=1"`
}

func TestValidate(t *testing.T) {
	r := &horizonReq{}
	require.NoError(t, Validate(r))
	assert.Equal(t, "24h", r.Horizon)
	assert.Equal(t, 10, r.Limit)

	err := Validate(&horizonReq{Horizon: "soon"})
	require.Error(t, err)
	errs := ValidationErrors(err)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_HORIZON", errs[0].Code)
	assert.Equal(t, "horizon", errs[0].Field)
}

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/ping", func(c echo.Context) error {
		var req horizonReq
		if errs := ReadAndValidateRequest(c, &req); errs != nil {
			return BadRequestResponse(c, errs)
		}
		return SuccessResponse(c, req)
	})
	e.GET("/boom", func(c echo.Context) error { panic("boom") })
	e.GET("/missing", func(c echo.Context) error { return AppErrorResponse(c, NotFoundError("model not found")) })
}

func TestServer_Envelope(t *testing.T) {
	s := NewServer(logger.Nop(), []Handler{pingHandler{}}, WithRegistry(prometheus.NewRegistry()))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ping", strings.NewReader(`{"horizon":"2d"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	s.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status int        `json:"status"`
		Data   horizonReq `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2d", body.Data.Horizon)
	assert.Equal(t, 10, body.Data.Limit)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/ping", strings.NewReader(`{"horizon":"-1h"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_NOT_FOUND")

	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "finsignal_http_requests_total")
}
