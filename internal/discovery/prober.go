package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/permit-search/internal/domain"
)

// SourceProbe marks jurisdictions found by probing candidate domains
const SourceProbe = "probe"

// DefaultCandidates are the host patterns municipalities commonly use.
// {city} is the city slug, {state} the lowercase state code.
var DefaultCandidates = []string{
	"https://www.{city}{state}.gov",
	"https://www.{city}.gov",
	"https://www.cityof{city}.org",
	"https://www.cityof{city}.com",
	"https://www.{city}.{state}.us",
	"https://{city}.{state}.us",
}

// Prober guesses a city's website by trying candidate URLs in order
type Prober struct {
	client     *http.Client
	limiter    Limiter
	logger     *slog.Logger
	timeout    time.Duration
	candidates []string
}

// NewProber creates a prober. Empty candidates use DefaultCandidates.
func NewProber(client *http.Client, limiter Limiter, candidates []string, timeout time.Duration, logger *slog.Logger) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Prober{
		client:     client,
		limiter:    limiter,
		logger:     logger,
		timeout:    timeout,
		candidates: candidates,
	}
}

// Candidates expands the templates for an address
func (p *Prober) Candidates(addr domain.Address) []string {
	city := slug(addr.City)
	if city == "" {
		return nil
	}
	state := strings.ToLower(NormalizeState(addr.State))

	urls := make([]string, 0, len(p.candidates))
	for _, tmpl := range p.candidates {
		u := strings.ReplaceAll(tmpl, "{city}", city)
		u = strings.ReplaceAll(u, "{state}", state)
		urls = append(urls, u)
	}
	return urls
}

// Probe returns a jurisdiction for the first candidate answering 2xx with HTML
func (p *Prober) Probe(ctx context.Context, addr domain.Address) (*domain.Jurisdiction, error) {
	for _, candidate := range p.Candidates(addr) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		website, err := p.try(ctx, candidate)
		if err != nil {
			p.logger.Debug("Candidate rejected",
				slog.String("url", candidate),
				slog.String("error", err.Error()))
			continue
		}

		return &domain.Jurisdiction{
			Name:    "City of " + strings.TrimSpace(addr.City),
			Type:    "city",
			State:   NormalizeState(addr.State),
			Website: website,
			Source:  SourceProbe,
		}, nil
	}

	return nil, domain.ErrJurisdictionNotFound
}

func (p *Prober) try(ctx context.Context, candidate string) (string, error) {
	if p.limiter != nil {
		if err := p.limiter.WaitForSlot(ctx); err != nil {
			return "", err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "html") {
		return "", fmt.Errorf("content type %q", ct)
	}

	// redirects land on the canonical site
	return resp.Request.URL.String(), nil
}
