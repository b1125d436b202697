package features

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
	pkghttp "FinSignal/pkg/http"
	applogger "FinSignal/pkg/logger"
)

// HTTPFeatureSource fetches feature maps from the aggregation service:
// GET {base}/v1/features?symbol=&pair=&interval=[&as_of=RFC3339].
type HTTPFeatureSource struct {
	client  *pkghttp.Client
	baseURL string
	filler  *CandleFiller
	now     func() time.Time
	l       *applogger.Logger
}

type SourceOption func(*HTTPFeatureSource)

// WithCandleFiller completes momentum and last close from stored candles.
func WithCandleFiller(f *CandleFiller) SourceOption {
	return func(s *HTTPFeatureSource) { s.filler = f }
}

func WithLogger(l *applogger.Logger) SourceOption {
	return func(s *HTTPFeatureSource) { s.l = l }
}

func WithClock(now func() time.Time) SourceOption {
	return func(s *HTTPFeatureSource) { s.now = now }
}

func NewHTTPFeatureSource(client *pkghttp.Client, baseURL string, opts ...SourceOption) *HTTPFeatureSource {
	s := &HTTPFeatureSource{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     func() time.Time { return time.Now().UTC() },
		l:       applogger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domrepo.FeatureSource = (*HTTPFeatureSource)(nil)

// Build returns the feature map for symbol at asOf (nil means now). A 404
// from upstream is reported as ErrDataUnavailable.
func (s *HTTPFeatureSource) Build(ctx context.Context, symbol, pair, interval string, asOf *time.Time) (models.FeatureMap, error) {
	q := map[string][]string{
		"symbol":   {symbol},
		"pair":     {pair},
		"interval": {interval},
	}
	at := s.now()
	if asOf != nil {
		at = asOf.UTC()
		q["as_of"] = []string{at.Format(time.RFC3339)}
	}

	var fm models.FeatureMap
	err := s.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      http.MethodGet,
		URL:         s.baseURL + "/v1/features",
		QueryParams: q,
	}, &fm)
	switch {
	case pkghttp.IsStatus(err, http.StatusNotFound):
		return nil, fmt.Errorf("features %s: %w", symbol, models.ErrDataUnavailable)
	case err != nil:
		return nil, fmt.Errorf("features %s: %w", symbol, err)
	}
	if fm == nil {
		fm = models.FeatureMap{}
	}
	if _, ok := fm.GeneratedAt(); !ok {
		fm[models.FieldGeneratedAt] = at.Format(time.RFC3339)
	}

	if s.filler != nil {
		if err := s.filler.Fill(ctx, fm, pair, at); err != nil {
			s.l.Warn("features: candle fill failed",
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
		}
	}
	return fm, nil
}
