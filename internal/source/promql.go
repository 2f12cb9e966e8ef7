package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"infra-anomaly-alerts/internal/engine"
)

const queryRangePath = "/query_range"

// PromQLOptions parameterise the time-series query adapter. The base URL
// points at a Prometheus-compatible API root (VictoriaMetrics vmselect,
// Prometheus, Thanos).
type PromQLOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// PromQL fetches range samples from a Prometheus-compatible HTTP API. The
// metric definition's Query field carries the PromQL expression verbatim.
type PromQL struct {
	opts    PromQLOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewPromQL constructs the adapter.
func NewPromQL(opts PromQLOptions, logger zerolog.Logger) *PromQL {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8481/select/0/prometheus/api/v1"
	}

	return &PromQL{
		opts:    opts,
		logger:  logger.With().Str("component", "promql_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchSamples runs the definition's query over the requested window and
// flattens the matrix response into ordered samples. Multi-series results
// are summed per timestamp; queries are expected to aggregate server-side.
func (p *PromQL) FetchSamples(ctx context.Context, def engine.MetricDefinition, spec engine.WindowSpec) ([]engine.MetricSample, error) {
	if def.Query == "" {
		return nil, fmt.Errorf("%w: %s has no query", engine.ErrUnknownMetric, def.ID)
	}

	params := url.Values{}
	params.Set("query", def.Query)
	params.Set("start", strconv.FormatInt(spec.Start.Unix(), 10))
	params.Set("end", strconv.FormatInt(spec.End.Unix(), 10))
	params.Set("step", strconv.FormatInt(int64(spec.Step.Seconds()), 10))

	endpoint := p.baseURL + queryRangePath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if status := gjson.GetBytes(payload, "status"); status.String() != "success" {
		return nil, fmt.Errorf("query api status %q: %s", status.String(), gjson.GetBytes(payload, "error").String())
	}

	return parseMatrix(payload, def.ID), nil
}

// parseMatrix folds data.result[*].values into per-timestamp sums.
func parseMatrix(payload []byte, id engine.MetricID) []engine.MetricSample {
	sums := make(map[int64]float64)
	gjson.GetBytes(payload, "data.result").ForEach(func(_, series gjson.Result) bool {
		series.Get("values").ForEach(func(_, pair gjson.Result) bool {
			values := pair.Array()
			if len(values) != 2 {
				return true
			}
			ts := values[0].Int()
			val, err := strconv.ParseFloat(values[1].String(), 64)
			if err != nil {
				return true
			}
			sums[ts] += val
			return true
		})
		return true
	})

	if len(sums) == 0 {
		return nil
	}

	samples := make([]engine.MetricSample, 0, len(sums))
	for ts, val := range sums {
		samples = append(samples, engine.MetricSample{
			Metric:    id,
			Timestamp: time.Unix(ts, 0).UTC(),
			Value:     val,
		})
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples
}

var _ engine.SampleSource = (*PromQL)(nil)
