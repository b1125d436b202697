package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSignal/internal/domain/models"
	"FinSignal/internal/repository"
	"FinSignal/internal/service/ratelimit"
	"FinSignal/internal/services/labeling"
	"FinSignal/internal/services/model"
	"FinSignal/internal/services/signal"
	"FinSignal/internal/usecase"
	"FinSignal/pkg/cache"
	"FinSignal/pkg/metrics"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type fixedPrices map[int64]float64

func (p fixedPrices) PriceAt(_ context.Context, _ string, tsMs int64, _ string) (float64, bool, error) {
	v, ok := p[tsMs]
	return v, ok, nil
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type labServer struct {
	e    *echo.Echo
	repo *repository.MemorySnapshotRepository
}

func newLabServer(t *testing.T, opts ...SignalLabOption) *labServer {
	t.Helper()
	repo := repository.NewMemorySnapshotRepository()
	prices := fixedPrices{t0.Add(24 * time.Hour).UnixMilli(): 102}
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	store := repository.NewCacheModelStore(mc, 0)
	engine := signal.NewEngine(signal.DefaultRules())

	labeler := usecase.NewOutcomeLabeler(repo, prices, nil, nil, metrics.Nop{}, usecase.LabelerConfig{
		Thresholds: labeling.DefaultThresholds(),
	}, nil)
	bt := usecase.NewBacktestEngine(repo, store, model.NewPredictor(), metrics.Nop{}, 0, nil)
	tr := usecase.NewModelTrainer(repo, store, model.NewTrainer(), engine, model.NewPredictor(), metrics.Nop{}, usecase.TrainerConfig{}, nil)

	opts = append([]SignalLabOption{WithClock(func() time.Time { return t0.Add(24 * time.Hour) })}, opts...)
	h := NewSignalLabHandler(nil, engine, labeler, bt, tr, opts...)
	e := echo.New()
	h.RegisterRoutes(e)
	return &labServer{e: e, repo: repo}
}

func (s *labServer) do(t *testing.T, method, target, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestScore(t *testing.T) {
	s := newLabServer(t)
	code, env := s.do(t, http.MethodPost, "/api/signal/score", `{"symbol":"BTC","features":{"funding":{"rate":-0.02}}}`)
	require.Equal(t, http.StatusOK, code)

	var sig models.Signal
	require.NoError(t, json.Unmarshal(env.Data, &sig))
	want := signal.NewEngine(signal.DefaultRules()).Score(models.FeatureMap{"funding": map[string]any{"rate": -0.02}})
	assert.Equal(t, want.Score, sig.Score)
	assert.Equal(t, want.Action, sig.Action)

	code, _ = s.do(t, http.MethodPost, "/api/signal/score", `{"symbol":"BTC"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLabelThenBacktest(t *testing.T) {
	s := newLabServer(t)
	require.NoError(t, s.repo.Save(context.Background(), &models.SignalSnapshot{
		Symbol: "BTC", Pair: "BTCUSDT", Interval: "1h", GeneratedAt: t0,
		PriceNow: models.Float64Ptr(100), SignalRule: models.ActionBuy, SignalScore: 1.5,
	}))

	code, env := s.do(t, http.MethodPost, "/api/label", `{"symbol":"BTC","horizon":"24h","strategies":["basic","breakout"]}`)
	require.Equal(t, http.StatusOK, code)
	var res models.LabelRunResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 1, res.Labeled)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, models.DirectionUp, res.Outcomes[0].Label.Direction)

	code, env = s.do(t, http.MethodGet, "/api/backtest?symbol=BTC&start=2025-03-01&end=2025-03-02", "")
	require.Equal(t, http.StatusOK, code)
	var rep models.BacktestReport
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, 1, rep.Trades)
	assert.Equal(t, 1.0, rep.WinRate)
	assert.True(t, rep.ProfitFactor.IsInf())
}

func TestLabel_StoppedRunIsAnError(t *testing.T) {
	s := newLabServer(t)
	// no future price is known for this one
	require.NoError(t, s.repo.Save(context.Background(), &models.SignalSnapshot{
		Symbol: "BTC", Pair: "BTCUSDT", Interval: "1h", GeneratedAt: t0.Add(-time.Hour),
		PriceNow: models.Float64Ptr(100), SignalRule: models.ActionBuy, SignalScore: 1.5,
	}))

	code, env := s.do(t, http.MethodPost, "/api/label", `{"symbol":"BTC","horizon":"24h","skip_on_error":false}`)
	require.Equal(t, http.StatusServiceUnavailable, code)

	var errs []struct {
		Params struct {
			Result models.LabelRunResult `json:"result"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &errs))
	require.Len(t, errs, 1)
	res := errs[0].Params.Result
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, models.OutcomeFailed, res.Outcomes[0].Status)
}

func TestLabel_Validation(t *testing.T) {
	s := newLabServer(t)
	cases := map[string]string{
		"missing symbol":   `{"horizon":"24h"}`,
		"bad horizon":      `{"symbol":"BTC","horizon":"soon"}`,
		"unknown strategy": `{"symbol":"BTC","strategies":["vibes"]}`,
		"bad now":          `{"symbol":"BTC","now":"yesterday"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			code, _ := s.do(t, http.MethodPost, "/api/label", body)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}
}

func TestBacktest_InvalidWindow(t *testing.T) {
	s := newLabServer(t)
	code, _ := s.do(t, http.MethodGet, "/api/backtest?symbol=BTC&start=2025-03-02&end=2025-03-01", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodGet, "/api/backtest?symbol=BTC&start=never&end=2025-03-01", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTrain_InsufficientSamples(t *testing.T) {
	s := newLabServer(t)
	code, env := s.do(t, http.MethodPost, "/api/model/train", `{"symbol":"BTC","start":"2025-01-01","end":"2025-03-01"}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	var rep models.TrainReport
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.True(t, rep.NoModel)
}

func TestPredict_NoModel(t *testing.T) {
	s := newLabServer(t)
	code, env := s.do(t, http.MethodPost, "/api/model/predict", `{"symbol":"BTC","features":{"funding":{"rate":0.01}}}`)
	require.Equal(t, http.StatusOK, code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.JSONEq(t, `null`, string(body["prediction"]))
	assert.Contains(t, body, "signal")
}

func TestRateLimit(t *testing.T) {
	s := newLabServer(t, WithRateLimit(ratelimit.New(0.001, 1)))
	code, _ := s.do(t, http.MethodPost, "/api/label", `{"symbol":"BTC"}`)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodPost, "/api/label", `{"symbol":"BTC"}`)
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestHealth(t *testing.T) {
	s := newLabServer(t, WithHealthCheck("postgres", func(context.Context) error { return nil }))
	code, env := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"postgres":"ok"}`, string(env.Data))

	s = newLabServer(t, WithHealthCheck("redis", func(context.Context) error { return errors.New("down") }))
	code, env = s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"redis":"down"}`, string(env.Data))
}

func TestToAppError(t *testing.T) {
	cases := map[error]int{
		models.ErrInvalidConfiguration:    http.StatusBadRequest,
		models.ErrInsufficientSamples:     http.StatusUnprocessableEntity,
		models.ErrModelNotFound:           http.StatusNotFound,
		models.ErrDataUnavailable:         http.StatusServiceUnavailable,
		models.ErrConcurrentLabelConflict: http.StatusConflict,
		errors.New("boom"):                http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, toAppError(err).Status, err.Error())
	}
}
