package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"optionbt/internal/model"
	phttp "optionbt/internal/platform/http"
)

const (
	nseBaseURL     = "https://www.nseindia.com"
	nseVixURL      = nseBaseURL + "/api/historical/vixhistory"
	yahooChartURL  = "https://query1.finance.yahoo.com/v8/finance/chart/"
	yahooVixTicker = "^INDIAVIX"
)

// brokerVixIntervals are tried in order against the broker historical call.
var brokerVixIntervals = []string{"1", "5", "15", "1D"}

// VIXBroker fetches India VIX history through the broker's historical-data
// call. Implementations translate the broker-specific VIX symbol and
// interval strings themselves.
type VIXBroker interface {
	VIXHistory(ctx context.Context, interval string, start, end time.Time) ([]model.Candle, error)
}

// VixCache fetches and caches India VIX daily close values.
//
// Fetch order, first success wins: broker → NSE historical API → Yahoo
// Finance chart API → DefaultVIX constant. Loaded once per instance; safe
// to share across pricer instances.
type VixCache struct {
	mu     sync.RWMutex
	loaded bool
	data   map[string]float64 // "2006-01-02" → VIX close (percent)

	broker VIXBroker
	http   *phttp.Client
	logger zerolog.Logger
}

// NewVixCache creates an empty cache. broker may be nil.
func NewVixCache(broker VIXBroker, client *phttp.Client) *VixCache {
	if client == nil {
		client = phttp.NewClient(phttp.ClientOptions{Timeout: 10 * time.Second})
	}
	return &VixCache{
		broker: broker,
		http:   client,
		logger: log.With().Str("component", "vix_cache").Logger(),
	}
}

// EnsureLoaded fetches the series once. Subsequent calls are no-ops.
func (v *VixCache) EnsureLoaded(ctx context.Context, start, end time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.loaded {
		return
	}
	v.loaded = true
	v.data = v.fetch(ctx, start, end)
}

// VIX returns (annualised volatility as a decimal, is_real). It looks up
// the exact date first, then walks backward up to 5 calendar days to cover
// weekends and holidays, before falling back to the constant.
func (v *VixCache) VIX(dt time.Time) (float64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(v.data) == 0 {
		return DefaultVIX / 100.0, false
	}
	for delta := 0; delta <= 5; delta++ {
		key := dt.AddDate(0, 0, -delta).Format("2006-01-02")
		if val, ok := v.data[key]; ok {
			return val / 100.0, true
		}
	}
	return DefaultVIX / 100.0, false
}

func (v *VixCache) fetch(ctx context.Context, start, end time.Time) map[string]float64 {
	if v.broker != nil {
		if data := v.fetchBroker(ctx, start, end); len(data) > 0 {
			return data
		}
	}
	if data := v.fetchNSE(ctx, start, end); len(data) > 0 {
		return data
	}
	if data := v.fetchYahoo(ctx, start, end); len(data) > 0 {
		return data
	}
	v.logger.Warn().Float64("default_pct", DefaultVIX).Msg("All VIX sources failed — using constant")
	return nil
}

// fetchBroker tries each interval until one returns usable data. Intraday
// bars are collapsed to one value per calendar day (last close).
func (v *VixCache) fetchBroker(ctx context.Context, start, end time.Time) map[string]float64 {
	for _, interval := range brokerVixIntervals {
		bars, err := v.broker.VIXHistory(ctx, interval, start, end)
		if err != nil {
			v.logger.Debug().Err(err).Str("interval", interval).Msg("Broker VIX fetch failed")
			continue
		}
		if len(bars) == 0 {
			continue
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
		data := make(map[string]float64, len(bars))
		for _, b := range bars {
			if b.Close > 0 {
				data[b.Time.Format("2006-01-02")] = b.Close
			}
		}
		if len(data) > 0 {
			v.logger.Info().Int("days", len(data)).Str("interval", interval).Msg("Loaded VIX from broker")
			return data
		}
	}
	return nil
}

type nseVixResponse struct {
	Data []struct {
		Timestamp string      `json:"EOD_TIMESTAMP"`
		Close     json.Number `json:"EOD_CLOSE_INDEX_VAL"`
	} `json:"data"`
}

func (v *VixCache) fetchNSE(ctx context.Context, start, end time.Time) map[string]float64 {
	// Prime session cookies first; the API rejects cookie-less requests.
	prime, err := http.NewRequestWithContext(ctx, http.MethodGet, nseBaseURL, nil)
	if err != nil {
		return nil
	}
	setNSEHeaders(prime)
	if resp, err := v.http.DoRequest(ctx, prime); err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	reqURL := fmt.Sprintf("%s?from=%s&to=%s", nseVixURL,
		url.QueryEscape(start.Format("02-Jan-2006")),
		url.QueryEscape(end.Format("02-Jan-2006")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil
	}
	setNSEHeaders(req)

	resp, err := v.http.DoRequest(ctx, req)
	if err != nil {
		v.logger.Warn().Err(err).Msg("NSE VIX fetch failed")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var parsed nseVixResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		v.logger.Warn().Err(err).Msg("NSE VIX response parse failed")
		return nil
	}

	data := make(map[string]float64, len(parsed.Data))
	for _, row := range parsed.Data {
		d, err := time.Parse("02-Jan-2006", row.Timestamp)
		if err != nil {
			continue
		}
		val, err := row.Close.Float64()
		if err != nil || val <= 0 {
			continue
		}
		data[d.Format("2006-01-02")] = val
	}
	if len(data) > 0 {
		v.logger.Info().Int("days", len(data)).Msg("Loaded VIX from NSE")
	}
	return data
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

func (v *VixCache) fetchYahoo(ctx context.Context, start, end time.Time) map[string]float64 {
	reqURL := fmt.Sprintf("%s%s?period1=%d&period2=%d&interval=1d",
		yahooChartURL, url.PathEscape(yahooVixTicker),
		start.Unix(), end.AddDate(0, 0, 1).Unix())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := v.http.DoRequest(ctx, req)
	if err != nil {
		v.logger.Warn().Err(err).Msg("Yahoo VIX fetch failed")
		return nil
	}
	defer resp.Body.Close()

	var parsed yahooChartResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		v.logger.Warn().Err(err).Msg("Yahoo VIX response parse failed")
		return nil
	}
	if len(parsed.Chart.Result) == 0 || len(parsed.Chart.Result[0].Indicators.Quote) == 0 {
		return nil
	}

	r := parsed.Chart.Result[0]
	closes := r.Indicators.Quote[0].Close
	data := make(map[string]float64, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		if i >= len(closes) || closes[i] <= 0 {
			continue
		}
		data[time.Unix(ts, 0).UTC().Format("2006-01-02")] = closes[i]
	}
	if len(data) > 0 {
		v.logger.Info().Int("days", len(data)).Msg("Loaded VIX from Yahoo Finance")
	}
	return data
}

func setNSEHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", nseBaseURL+"/")
}
