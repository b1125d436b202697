package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"FinSignal/internal/domain/models"
	domsvc "FinSignal/internal/domain/service"
	"FinSignal/internal/service/ratelimit"
	"FinSignal/internal/services/backtest"
	"FinSignal/internal/usecase"
	xhttp "FinSignal/pkg/http"
	xlogger "FinSignal/pkg/logger"
	"FinSignal/pkg/util"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// SignalLabHandler exposes the scoring, labeling, backtest and model operations.
type SignalLabHandler struct {
	logger      *xlogger.Logger
	scorer      domsvc.SignalScorer
	labeler     *usecase.OutcomeLabeler
	backtester  *usecase.BacktestEngine
	trainer     *usecase.ModelTrainer
	limiter     *ratelimit.Limiter
	checks      map[string]HealthCheck
	skipOnError bool
	minAIConf   float64
	now         func() time.Time
}

type SignalLabOption func(*SignalLabHandler)

// WithRateLimit throttles write endpoints per client IP.
func WithRateLimit(l *ratelimit.Limiter) SignalLabOption {
	return func(h *SignalLabHandler) { h.limiter = l }
}

// WithHealthCheck adds a dependency to GET /healthz.
func WithHealthCheck(name string, check HealthCheck) SignalLabOption {
	return func(h *SignalLabHandler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

// WithLabelDefaults sets skip_on_error for requests that omit it and the
// default backtest AI gate.
func WithLabelDefaults(skipOnError bool, minAIConf float64) SignalLabOption {
	return func(h *SignalLabHandler) {
		h.skipOnError = skipOnError
		h.minAIConf = minAIConf
	}
}

func WithClock(now func() time.Time) SignalLabOption {
	return func(h *SignalLabHandler) { h.now = now }
}

func NewSignalLabHandler(
	logger *xlogger.Logger,
	scorer domsvc.SignalScorer,
	labeler *usecase.OutcomeLabeler,
	backtester *usecase.BacktestEngine,
	trainer *usecase.ModelTrainer,
	opts ...SignalLabOption,
) *SignalLabHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &SignalLabHandler{
		logger:      logger,
		scorer:      scorer,
		labeler:     labeler,
		backtester:  backtester,
		trainer:     trainer,
		checks:      make(map[string]HealthCheck),
		skipOnError: true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *SignalLabHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.POST("/signal/score", h.Score)
	g.POST("/label", h.Label, h.throttle)
	g.GET("/backtest", h.Backtest)
	g.POST("/model/train", h.Train, h.throttle)
	g.POST("/model/predict", h.Predict)
}

func (h *SignalLabHandler) throttle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter != nil && !h.limiter.Allow(c.RealIP()+":"+c.Path()) {
			return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
		}
		return next(c)
	}
}

func (h *SignalLabHandler) Score(c echo.Context) error {
	req := &models.ScoreRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.scorer.Score(req.Features))
}

func (h *SignalLabHandler) Label(c echo.Context) error {
	req := &models.LabelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	horizon, _ := util.ParseHorizon(req.Horizon)
	strategies, err := models.ParseStrategies(req.Strategies)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err).WithField("strategies"))
	}
	now := h.now()
	if req.Now != "" {
		t, ok := util.ParseTime(req.Now)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid now %q", req.Now).WithField("now"))
		}
		now = t
	}
	skip := h.skipOnError
	if req.SkipOnError != nil {
		skip = *req.SkipOnError
	}

	res, err := h.labeler.LabelPending(c.Request().Context(), models.LabelOptions{
		Symbol:      req.Symbol,
		Horizon:     horizon,
		Strategies:  strategies,
		Force:       req.Force,
		SkipOnError: skip,
		Limit:       req.Limit,
		ChunkSize:   req.ChunkSize,
	}, now)
	if err != nil {
		h.logger.Error("label usecase error", xlogger.Error(err))
		appErr := toAppError(err)
		if res != nil {
			// a stopped run still reports what it did
			appErr = appErr.WithParam("result", res)
		}
		return xhttp.AppErrorResponse(c, appErr)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SignalLabHandler) Backtest(c echo.Context) error {
	req := &models.BacktestRequest{MinAIConfidence: h.minAIConf}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	start, end, appErr := parseWindow(req.Start, req.End)
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}

	rep, err := h.backtester.RunWithOptions(c.Request().Context(), req.Symbol, start, end, backtest.Options{
		MinAIConfidence: req.MinAIConfidence,
		IncludeTrades:   req.IncludeTrades,
	})
	if err != nil {
		h.logger.Error("backtest usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *SignalLabHandler) Train(c echo.Context) error {
	req := &models.TrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	start, end, appErr := parseWindow(req.Start, req.End)
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}

	rep, err := h.trainer.Train(c.Request().Context(), req.Symbol, start, end, req.Epochs, req.LearningRate)
	if errors.Is(err, models.ErrInsufficientSamples) {
		return xhttp.DataResponse(c, http.StatusUnprocessableEntity, rep)
	}
	if err != nil {
		h.logger.Error("train usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, rep)
}

type predictResponse struct {
	Signal     models.Signal      `json:"signal"`
	Prediction *models.Prediction `json:"prediction"`
}

func (h *SignalLabHandler) Predict(c echo.Context) error {
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, sig, err := h.trainer.Predict(c.Request().Context(), req.Symbol, req.Features, req.Signal)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, predictResponse{Signal: sig, Prediction: p})
}

func (h *SignalLabHandler) Health(c echo.Context) error {
	status := make(map[string]string, len(h.checks))
	code := http.StatusOK
	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	return xhttp.DataResponse(c, code, status)
}

func parseWindow(startRaw, endRaw string) (time.Time, time.Time, *xhttp.AppError) {
	start, ok := util.ParseTime(startRaw)
	if !ok {
		return time.Time{}, time.Time{}, xhttp.BadRequestErrorf("invalid start %q", startRaw).WithField("start")
	}
	end, ok := util.ParseTime(endRaw)
	if !ok {
		return time.Time{}, time.Time{}, xhttp.BadRequestErrorf("invalid end %q", endRaw).WithField("end")
	}
	return start, end, nil
}

// toAppError maps domain sentinels onto HTTP statuses.
func toAppError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, models.ErrInvalidConfiguration):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrInsufficientSamples):
		return xhttp.UnprocessableError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrModelNotFound), errors.Is(err, models.ErrSnapshotNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrDataUnavailable):
		return xhttp.UnavailableError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrConcurrentLabelConflict):
		return xhttp.ConflictError(err.Error()).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
