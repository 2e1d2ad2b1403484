package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const permitPage = `<!DOCTYPE html>
<html>
<head><title> Springfield   Building Department </title>
<style>body { color: red; }</style>
</head>
<body>
<script>var tracking = "do not index";</script>
<h1>Building Permits</h1>
<p>Call us at (217) 555-0142 or write to permits@springfield.gov.</p>
<a href="/permits/residential">Residential permit info</a>
<a href="forms/fence-application.pdf">Fence Application</a>
<a href="https://example.com/about">About</a>
<a href="tel:217-555-0199">Front desk</a>
<a href="mailto:clerk@springfield.gov?subject=hi">Clerk</a>
<a href="javascript:void(0)">Apply for permit</a>
<h2>Apply for a permit</h2>
<form action="/permits/apply" method="post">
  <input name="applicant">
  <select name="permit_type"></select>
  <textarea name="notes"></textarea>
  <input type="submit" value="Submit application">
</form>
<form action="/search"><input name="q"><input type="submit" value="Search"></form>
</body>
</html>`

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) WaitForSlot(context.Context) error {
	l.calls.Add(1)
	return l.err
}

func newTestScraper(limiter Limiter) *Scraper {
	s := New(nil, limiter, nil)
	s.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return s
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Timeout = 2 * time.Second
	opts.DelayBetweenRequests = 0
	return opts
}

func TestScrapeURL_ExtractsContentAndStructure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(permitPage))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	result := newTestScraper(limiter).ScrapeURL(context.Background(), srv.URL+"/building/", testOptions())

	require.True(t, result.Success, result.Error)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "Springfield Building Department", result.Title)
	assert.Contains(t, result.Content, "Call us at (217) 555-0142")
	assert.NotContains(t, result.Content, "do not index")
	assert.NotContains(t, result.Content, "color: red")
	assert.NotContains(t, result.Content, "  ")
	assert.Equal(t, int32(1), limiter.calls.Load())

	s := result.Structured
	require.NotNil(t, s)
	assert.Equal(t, []string{
		srv.URL + "/permits/residential",
		srv.URL + "/building/forms/fence-application.pdf",
	}, s.PermitLinks)
	assert.Contains(t, s.Phones, "217-555-0199")
	assert.Contains(t, s.Phones, "(217) 555-0142")
	assert.Contains(t, s.Emails, "clerk@springfield.gov")
	assert.Contains(t, s.Emails, "permits@springfield.gov")

	require.Len(t, s.DetectedForms, 2)
	assert.Equal(t, Form{
		Action: srv.URL + "/permits/apply",
		Method: "POST",
		Fields: []string{"applicant", "permit_type", "notes"},
	}, s.DetectedForms[0])
	assert.Equal(t, "GET", s.DetectedForms[1].Method)

	require.Len(t, s.PermitForms, 2)
	assert.Equal(t, PermitForm{Name: "Submit application", URL: srv.URL + "/permits/apply"}, s.PermitForms[0])
	assert.Equal(t, PermitForm{Name: "Fence Application", URL: srv.URL + "/building/forms/fence-application.pdf"}, s.PermitForms[1])
}

func TestScrapeURL_WithoutAdvancedExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(permitPage))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.EnableAdvancedExtraction = false

	result := newTestScraper(nil).ScrapeURL(context.Background(), srv.URL, opts)
	require.True(t, result.Success)
	assert.Nil(t, result.Structured)
}

func TestScrapeURL_Retries(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		maxRetries   int
		wantSuccess  bool
		wantRequests int32
	}{
		{name: "recovers after server errors", statuses: []int{503, 500, 200}, maxRetries: 2, wantSuccess: true, wantRequests: 3},
		{name: "gives up after max retries", statuses: []int{502, 502, 502, 502}, maxRetries: 2, wantSuccess: false, wantRequests: 3},
		{name: "retries rate limited responses", statuses: []int{429, 200}, maxRetries: 1, wantSuccess: true, wantRequests: 2},
		{name: "does not retry not found", statuses: []int{404, 200}, maxRetries: 3, wantSuccess: false, wantRequests: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := requests.Add(1)
				status := tt.statuses[int(n)-1]
				w.Header().Set("Content-Type", "text/html")
				w.WriteHeader(status)
				_, _ = w.Write([]byte("<html><body>ok</body></html>"))
			}))
			defer srv.Close()

			limiter := &countingLimiter{}
			opts := testOptions()
			opts.MaxRetries = tt.maxRetries

			result := newTestScraper(limiter).ScrapeURL(context.Background(), srv.URL, opts)

			assert.Equal(t, tt.wantSuccess, result.Success)
			assert.Equal(t, tt.wantRequests, requests.Load())
			assert.Equal(t, tt.wantRequests, limiter.calls.Load())
			if !tt.wantSuccess {
				assert.NotEmpty(t, result.Error)
			}
		})
	}
}

func TestScrapeURL_RejectsNonText(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	result := newTestScraper(nil).ScrapeURL(context.Background(), srv.URL, testOptions())

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unsupported content type")
	assert.Equal(t, int32(1), requests.Load())
}

func TestScrapeURL_LimiterError(t *testing.T) {
	limiter := &countingLimiter{err: errors.New("rate limit exceeded, try later")}

	result := newTestScraper(limiter).ScrapeURL(context.Background(), "http://127.0.0.1:1/", testOptions())

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "rate limiter")
}

func TestScrapeURL_UnreachableHost(t *testing.T) {
	opts := testOptions()
	opts.MaxRetries = 0

	result := newTestScraper(nil).ScrapeURL(context.Background(), "http://127.0.0.1:1/", opts)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Empty(t, result.Content)
}

func TestScrapeURL_BodyIsCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("abcdefghijklmnopqrstuvwxyz"))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.MaxBodyBytes = 10

	result := newTestScraper(nil).ScrapeURL(context.Background(), srv.URL, opts)
	require.True(t, result.Success)
	assert.Equal(t, "abcdefghij", result.Content)
}

func TestNormalizeURL(t *testing.T) {
	origin, err := url.Parse("https://www.springfield.gov/dept/building/")
	require.NoError(t, err)

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "permits.html", want: "https://www.springfield.gov/dept/building/permits.html"},
		{in: "/permits", want: "https://www.springfield.gov/permits"},
		{in: "../planning/", want: "https://www.springfield.gov/dept/planning/"},
		{in: "//cdn.springfield.gov/a.pdf", want: "https://cdn.springfield.gov/a.pdf"},
		{in: "https://other.gov/x#section", want: "https://other.gov/x"},
		{in: "data:text/plain;base64,aGk=", wantErr: true},
		{in: "javascript:void(0)", wantErr: true},
		{in: "mailto:a@b.gov", wantErr: true},
		{in: "#top", wantErr: true},
		{in: "ftp://files.gov/a", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeURL(origin, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
