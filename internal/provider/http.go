package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/geowatch/geowatch/internal/model"
	"github.com/geowatch/geowatch/internal/resilience"
)

// HTTPOptions configures the HTTP provider client.
type HTTPOptions struct {
	BaseURL        string
	APIKey         string
	Collection     string
	Timeout        time.Duration
	RequestsPerSec float64
	MaxRetries     int
	InitialBackoff time.Duration
}

// HTTPProvider implements Provider against the analysis gateway's JSON API.
// A shared rate limiter keeps the worker pool from saturating the gateway's
// per-key quota.
type HTTPProvider struct {
	client   *http.Client
	opts     HTTPOptions
	limiter  *rate.Limiter
	retryCfg resilience.RetryConfig
	logger   *zap.Logger
}

// NewHTTPProvider creates an HTTPProvider with the given options.
func NewHTTPProvider(opts HTTPOptions) *HTTPProvider {
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 2.0
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.Collection == "" {
		opts.Collection = "COPERNICUS/S2_SR_HARMONIZED"
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTPProvider{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), int(opts.RequestsPerSec)+1),
		retryCfg: resilience.RetryConfig{
			MaxAttempts:    opts.MaxRetries,
			InitialBackoff: opts.InitialBackoff,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.25,
		},
		logger: zap.L().With(zap.String("component", "provider")),
	}
}

type changeRequest struct {
	Collection string          `json:"collection"`
	Geometry   json.RawMessage `json:"geometry"`
	Baseline   DateRange       `json:"baseline"`
	Recent     DateRange       `json:"recent"`
}

type timeseriesRequest struct {
	Collection string          `json:"collection"`
	Geometry   json.RawMessage `json:"geometry"`
	Start      string          `json:"start"`
	End        string          `json:"end"`
	StepDays   int             `json:"step_days"`
}

type timeseriesResponse struct {
	Points []struct {
		Date    string  `json:"date"`
		Value   float64 `json:"value"`
		Quality string  `json:"quality"`
	} `json:"points"`
}

func (p *HTTPProvider) ComputeChange(ctx context.Context, geometry json.RawMessage, baseline, recent DateRange) (*ChangeResult, error) {
	req := changeRequest{
		Collection: p.opts.Collection,
		Geometry:   geometry,
		Baseline:   baseline,
		Recent:     recent,
	}

	cfg := p.retryCfg
	cfg.OnRetry = resilience.RetryLogger("provider", "compute_change")

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*ChangeResult, error) {
		var result ChangeResult
		if err := p.postJSON(ctx, "/v1/change", req, &result); err != nil {
			return nil, err
		}
		if result.ChangeAreaM2 < 0 {
			return nil, resilience.NewPermanentError(
				eris.Errorf("provider: negative change area %.2f", result.ChangeAreaM2))
		}
		return &result, nil
	})
}

func (p *HTTPProvider) QueryTimeseries(ctx context.Context, geometry json.RawMessage, start, end time.Time, step time.Duration) ([]model.NDVIDataPoint, error) {
	stepDays := int(step / (24 * time.Hour))
	if stepDays < 1 {
		stepDays = 1
	}
	req := timeseriesRequest{
		Collection: p.opts.Collection,
		Geometry:   geometry,
		Start:      start.Format("2006-01-02"),
		End:        end.Format("2006-01-02"),
		StepDays:   stepDays,
	}

	cfg := p.retryCfg
	cfg.OnRetry = resilience.RetryLogger("provider", "query_timeseries")

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*timeseriesResponse, error) {
		var result timeseriesResponse
		if err := p.postJSON(ctx, "/v1/timeseries", req, &result); err != nil {
			return nil, err
		}
		return &result, nil
	})
	if err != nil {
		return nil, err
	}

	points := make([]model.NDVIDataPoint, 0, len(resp.Points))
	for _, raw := range resp.Points {
		date, err := time.Parse("2006-01-02", raw.Date)
		if err != nil {
			return nil, resilience.NewPermanentError(
				eris.Wrapf(err, "provider: bad timeseries date %q", raw.Date))
		}
		quality := model.NDVIQuality(raw.Quality)
		if quality == "" {
			quality = model.NDVIQualityGood
		}
		points = append(points, model.NDVIDataPoint{
			Date:    date,
			Value:   raw.Value,
			Quality: quality,
		})
	}
	return points, nil
}

// postJSON sends one rate-limited request and classifies the response.
// Transient statuses come back wrapped so the retry loop picks them up;
// other non-2xx statuses are permanent.
func (p *HTTPProvider) postJSON(ctx context.Context, path string, reqBody, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "provider: rate limiter wait")
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "provider: marshal request"))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "provider: build request"))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return resilience.NewTransientError(eris.Wrapf(err, "provider: POST %s", path), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resilience.NewTransientError(eris.Wrapf(err, "provider: read response %s", path), resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		errResp := fmt.Errorf("provider: POST %s returned %d: %s", path, resp.StatusCode, truncate(body, 256))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			p.logger.Warn("transient gateway response",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
			)
			return resilience.NewTransientError(errResp, resp.StatusCode)
		}
		return resilience.NewPermanentError(errResp)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return resilience.NewPermanentError(eris.Wrapf(err, "provider: decode response %s", path))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
