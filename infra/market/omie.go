// Package market implements day-ahead price fetching against the OMIE
// (Iberian market operator) public file endpoint.
package market

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kmoreau/plugsched/core/model"
)

const defaultBaseURL = "https://www.omie.es/es/file-download?parents=marginalpdbc&filename=marginalpdbc_%s.1"

// Config holds the OMIE client settings.
type Config struct {
	// BaseURL must contain one %s verb for the yyyymmdd date.
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
}

// OmieClient fetches the published marginal price file for one day.
type OmieClient struct {
	baseURL string
	http    *http.Client
}

// NewOmieClient builds a client from the configuration.
func NewOmieClient(cfg Config) *OmieClient {
	cfg.SetDefaults()
	return &OmieClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

// FetchDay downloads and parses the price file for the given date. The file
// publishes quarter-hour rows; the first quarter of each hour becomes that
// hour's price, converted from EUR/MWh to EUR/kWh.
func (c *OmieClient) FetchDay(ctx context.Context, date time.Time) (model.PriceCurve, error) {
	url := fmt.Sprintf(c.baseURL, date.Format("20060102"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, body)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return ParseDay(string(body), date)
}

// ParseDay extracts the hourly curve for the given date from the raw
// semicolon-separated file content.
func ParseDay(content string, date time.Time) (model.PriceCurve, error) {
	prefix := date.Format("2006;01;02")
	quarters := make(map[int]float64)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		parts := strings.Split(line, ";")
		if len(parts) < 6 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(parts[3]))
		if err != nil || idx < 1 {
			continue
		}
		raw, err := strconv.ParseFloat(strings.TrimSpace(parts[5]), 64)
		if err != nil {
			continue
		}
		// File rows are 1-based quarter-hour periods.
		quarters[idx-1] = math.Round(raw) / 1000
	}
	if len(quarters) == 0 {
		return nil, fmt.Errorf("no price rows for %s", date.Format("2006-01-02"))
	}

	var curve model.PriceCurve
	for hour := 0; hour < 24; hour++ {
		if price, ok := quarters[hour*4]; ok {
			curve = append(curve, model.PricePoint{Hour: hour, Price: price})
		}
	}
	if len(curve) == 0 {
		return nil, fmt.Errorf("no hourly prices after normalization for %s", date.Format("2006-01-02"))
	}
	return curve, nil
}
