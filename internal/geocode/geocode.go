package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/permit-search/internal/domain"
)

// Census geocoder defaults
const (
	DefaultBaseURL   = "https://geocoding.geo.census.gov"
	DefaultBenchmark = "Public_AR_Current"
	DefaultVintage   = "Current_Current"

	geographiesPath = "/geocoder/geographies/onelineaddress"
)

// ErrNoMatch is returned when the geocoder has no match for the address
var ErrNoMatch = errors.New("no geocoder match for address")

// Limiter gates outgoing requests
type Limiter interface {
	WaitForSlot(ctx context.Context) error
}

// Config for the Census geocoder client
type Config struct {
	BaseURL   string
	Benchmark string
	Vintage   string
	Timeout   time.Duration
}

// Client resolves addresses through the US Census one-line-address API
type Client struct {
	cfg     Config
	http    *http.Client
	limiter Limiter
	logger  *slog.Logger
}

// New creates a geocoder client with defaults filled in
func New(cfg Config, httpClient *http.Client, limiter Limiter, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Benchmark == "" {
		cfg.Benchmark = DefaultBenchmark
	}
	if cfg.Vintage == "" {
		cfg.Vintage = DefaultVintage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		logger:  logger,
	}
}

type censusGeography struct {
	Name string `json:"NAME"`
}

type censusResponse struct {
	Result struct {
		AddressMatches []struct {
			MatchedAddress string `json:"matchedAddress"`
			Coordinates    struct {
				X float64 `json:"x"`
				Y float64 `json:"y"`
			} `json:"coordinates"`
			Geographies map[string][]censusGeography `json:"geographies"`
		} `json:"addressMatches"`
	} `json:"result"`
	Errors []string `json:"errors"`
}

// Geocode returns the location of the address, including its county and incorporated place
func (c *Client) Geocode(ctx context.Context, addr domain.Address) (*domain.Location, error) {
	line := addr.OneLine()
	if line == "" {
		return nil, fmt.Errorf("geocode: empty address")
	}

	if c.limiter != nil {
		if err := c.limiter.WaitForSlot(ctx); err != nil {
			return nil, fmt.Errorf("geocode: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("address", line)
	q.Set("benchmark", c.cfg.Benchmark)
	q.Set("vintage", c.cfg.Vintage)
	q.Set("format", "json")

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + geographiesPath + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("geocode: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed censusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("geocode: decode response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("geocode: %s", strings.Join(parsed.Errors, "; "))
	}
	if len(parsed.Result.AddressMatches) == 0 {
		return nil, ErrNoMatch
	}

	match := parsed.Result.AddressMatches[0]
	loc := &domain.Location{
		Latitude:       match.Coordinates.Y,
		Longitude:      match.Coordinates.X,
		MatchedAddress: match.MatchedAddress,
		County:         firstName(match.Geographies["Counties"]),
		Place:          firstName(match.Geographies["Incorporated Places"]),
	}

	c.logger.Debug("Address geocoded",
		slog.String("address", line),
		slog.String("county", loc.County),
		slog.String("place", loc.Place))

	return loc, nil
}

func firstName(entries []censusGeography) string {
	if len(entries) == 0 {
		return ""
	}
	return entries[0].Name
}
