package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 5 << 20
	defaultUserAgent    = "permit-search/1.0 (+https://github.com/cuongbtq/permit-search)"
)

// Limiter gates outgoing requests
type Limiter interface {
	WaitForSlot(ctx context.Context) error
}

// Options tunes a single ScrapeURL call
type Options struct {
	Timeout                  time.Duration // per attempt
	DelayBetweenRequests     time.Duration // base of the exponential backoff
	MaxRetries               int
	EnableAdvancedExtraction bool
	MaxBodyBytes             int64
	UserAgent                string
}

// DefaultOptions matches the settings used for government sites
func DefaultOptions() Options {
	return Options{
		Timeout:                  defaultTimeout,
		DelayBetweenRequests:     time.Second,
		MaxRetries:               2,
		EnableAdvancedExtraction: true,
		MaxBodyBytes:             defaultMaxBodyBytes,
		UserAgent:                defaultUserAgent,
	}
}

// Form is an HTML form found on a page
type Form struct {
	Action string   `json:"action"`
	Method string   `json:"method"`
	Fields []string `json:"fields,omitempty"`
}

// PermitForm is a form or document that looks like a permit application
type PermitForm struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Structured holds the data pulled out of a page beyond its text
type Structured struct {
	DetectedForms []Form       `json:"detected_forms,omitempty"`
	PermitForms   []PermitForm `json:"permit_forms,omitempty"`
	PermitLinks   []string     `json:"permit_links,omitempty"`
	Phones        []string     `json:"phones,omitempty"`
	Emails        []string     `json:"emails,omitempty"`
}

// Result is the outcome of scraping one URL. Failures are reported in Error, never panicked.
type Result struct {
	URL        string        `json:"url"`
	Success    bool          `json:"success"`
	Content    string        `json:"content,omitempty"`
	Title      string        `json:"title,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Structured *Structured   `json:"structured,omitempty"`
	Duration   time.Duration `json:"duration"`
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// retryable reports whether another attempt could succeed
func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

var errUnsupportedContent = errors.New("unsupported content type")

// Scraper fetches and parses web pages under a shared rate limiter
type Scraper struct {
	client  *http.Client
	limiter Limiter
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a scraper. A nil client uses a plain http.Client; a nil limiter disables limiting.
func New(client *http.Client, limiter Limiter, logger *slog.Logger) *Scraper {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		client:  client,
		limiter: limiter,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// ScrapeURL fetches url and extracts its text and, optionally, structured data
func (s *Scraper) ScrapeURL(ctx context.Context, url string, opts Options) *Result {
	start := time.Now()
	result := &Result{URL: url}
	defer func() { result.Duration = time.Since(start) }()

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	var (
		body    []byte
		lastErr error
	)
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := opts.DelayBetweenRequests * time.Duration(1<<(attempt-1))
			if err := s.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		if s.limiter != nil {
			if err := s.limiter.WaitForSlot(ctx); err != nil {
				lastErr = fmt.Errorf("rate limiter: %w", err)
				break
			}
		}

		var code int
		code, body, lastErr = s.fetch(ctx, url, opts)
		result.StatusCode = code
		if lastErr == nil {
			break
		}

		s.logger.Debug("Scrape attempt failed",
			slog.String("url", url),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()))

		if !isRetryable(lastErr) {
			break
		}
	}

	if lastErr != nil {
		result.Error = lastErr.Error()
		return result
	}

	page, err := parsePage(url, body, opts.EnableAdvancedExtraction)
	if err != nil {
		result.Error = fmt.Sprintf("parse html: %v", err)
		return result
	}

	result.Success = true
	result.Title = page.title
	result.Content = page.content
	result.Structured = page.structured
	return result
}

func (s *Scraper) fetch(ctx context.Context, url string, opts Options) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,text/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, nil, &statusError{code: resp.StatusCode}
	}

	mime, body, err := validateContent(resp, opts.MaxBodyBytes)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if body == nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: %s", errUnsupportedContent, mime)
	}

	return resp.StatusCode, body, nil
}

// validateContent reads the body only for text/* responses, capped at maxBytes
func validateContent(resp *http.Response, maxBytes int64) (mime string, body []byte, err error) {
	mime = resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.TrimSpace(strings.ToLower(mime))

	if !strings.HasPrefix(mime, "text/") && mime != "application/xhtml+xml" {
		return mime, nil, nil
	}

	buf := bytes.Buffer{}
	if _, err := buf.ReadFrom(io.LimitReader(resp.Body, maxBytes)); err != nil {
		return "", nil, fmt.Errorf("read body: %w", err)
	}

	return mime, buf.Bytes(), nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, errUnsupportedContent) || errors.Is(err, ErrBlockedAddress) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
