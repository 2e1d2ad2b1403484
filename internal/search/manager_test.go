package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/permit-search/internal/circuitbreaker"
	"github.com/cuongbtq/permit-search/internal/domain"
	"github.com/cuongbtq/permit-search/internal/extraction"
	"github.com/cuongbtq/permit-search/internal/scraper"
	"github.com/cuongbtq/permit-search/internal/search/storage"
)

var testAddress = domain.Address{Street: "301 W 2nd St", City: "Austin", State: "TX", Zip: "78701"}

type fakeDiscoverer struct {
	jurisdiction *domain.Jurisdiction
	err          error
	panicWith    any
}

func (f *fakeDiscoverer) Discover(context.Context, domain.Address) (*domain.Jurisdiction, error) {
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.jurisdiction == nil {
		return nil, f.err
	}
	j := *f.jurisdiction
	return &j, f.err
}

type fakeScraper struct {
	mu      sync.Mutex
	results map[string]*scraper.Result
	calls   []string
}

func (f *fakeScraper) ScrapeURL(_ context.Context, url string, _ scraper.Options) *scraper.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, url)
	if r, ok := f.results[url]; ok {
		return r
	}
	return &scraper.Result{URL: url, Error: "status 503"}
}

type fakeExtractor struct {
	data  *domain.PermitData
	err   error
	calls atomic.Int32
	last  extraction.Request
}

func (f *fakeExtractor) Extract(_ context.Context, req extraction.Request) (*domain.PermitData, error) {
	f.calls.Add(1)
	f.last = req
	return f.data, f.err
}

type fakeValidator struct {
	result *domain.ValidationResult
	bundle domain.ValidationBundle
}

func (f *fakeValidator) Validate(_ context.Context, b domain.ValidationBundle) (*domain.ValidationResult, error) {
	f.bundle = b
	return f.result, nil
}

// progressStore records every progress value written through Update
type progressStore struct {
	*storage.MemoryStore
	mu       sync.Mutex
	progress []int
}

func (s *progressStore) Update(ctx context.Context, job *domain.SearchJob) error {
	s.mu.Lock()
	s.progress = append(s.progress, job.Progress)
	s.mu.Unlock()
	return s.MemoryStore.Update(ctx, job)
}

func austin() *domain.Jurisdiction {
	return &domain.Jurisdiction{
		Name:      "City of Austin",
		Type:      "city",
		State:     "TX",
		Website:   "https://www.austintexas.gov",
		PermitURL: "https://www.austintexas.gov/permits",
		ContactInfo: domain.ContactInfo{
			Address: "6310 Wilhelmina Delco Dr, Austin, TX 78752",
		},
		Source: "directory",
	}
}

func okPage(url, content string) *scraper.Result {
	return &scraper.Result{URL: url, Success: true, Title: "Austin", Content: content, Structured: &scraper.Structured{}}
}

type harness struct {
	manager   *Manager
	store     *progressStore
	scraper   *fakeScraper
	extractor *fakeExtractor
}

func newHarness(t *testing.T, d *fakeDiscoverer, pages map[string]*scraper.Result, ext *fakeExtractor, breaker Breaker) *harness {
	t.Helper()

	store := &progressStore{MemoryStore: storage.NewMemoryStore()}
	sc := &fakeScraper{results: pages}

	deps := Deps{
		Store:      store,
		Discoverer: d,
		Scraper:    sc,
		Breaker:    breaker,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if ext != nil {
		deps.Extractor = ext
	}

	return &harness{
		manager:   NewManager(Config{}, deps),
		store:     store,
		scraper:   sc,
		extractor: ext,
	}
}

func (h *harness) run(t *testing.T) *domain.SearchJob {
	t.Helper()
	ctx := context.Background()

	job, err := h.manager.CreateJob(ctx, testAddress)
	require.NoError(t, err)

	h.manager.ExecuteJob(ctx, job.ID)

	got, err := h.manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	return got
}

func TestCreateJob(t *testing.T) {
	h := newHarness(t, &fakeDiscoverer{}, nil, nil, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.manager.now = func() time.Time { return now }

	job, err := h.manager.CreateJob(context.Background(), testAddress)
	require.NoError(t, err)

	assert.True(t, domain.ValidJobID(job.ID), job.ID)
	assert.Equal(t, fmt.Sprintf("%d-", now.UnixMilli()), job.ID[:14])
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, now, job.StartTime)
	assert.Equal(t, testAddress, job.Address)

	other, err := h.manager.CreateJob(context.Background(), testAddress)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, other.ID)
}

func TestCreateJob_EvictsExpiredWhenFull(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeDiscoverer{}, nil, nil, nil)
	m := h.manager

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	// 100 jobs: 10 finished 40 minutes ago, 5 still running from then, 85 recent pending
	for i := 0; i < 100; i++ {
		job := domain.NewSearchJob(fmt.Sprintf("job-%03d", i), testAddress, now.Add(-40*time.Minute))
		switch {
		case i < 10:
			job.Status = domain.JobStatusCompleted
		case i < 15:
			job.Status = domain.JobStatusRunning
		default:
			job.StartTime = now.Add(-time.Minute)
		}
		require.NoError(t, h.store.Create(ctx, job))
	}

	_, err := m.CreateJob(ctx, testAddress)
	require.NoError(t, err)

	count, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 91, count)

	_, err = m.GetJob(ctx, "job-000")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = m.GetJob(ctx, "job-010")
	assert.NoError(t, err, "running jobs are never evicted")
}

func TestCreateJob_InsertsEvenWhenNothingExpires(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeDiscoverer{}, nil, nil, nil)

	for i := 0; i < DefaultMaxJobs; i++ {
		_, err := h.manager.CreateJob(ctx, testAddress)
		require.NoError(t, err)
	}
	_, err := h.manager.CreateJob(ctx, testAddress)
	require.NoError(t, err)

	count, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxJobs+1, count)
}

func TestExecuteJob_Extracted(t *testing.T) {
	j := austin()
	ext := &fakeExtractor{data: &domain.PermitData{
		Permits: []domain.Permit{{Name: "Residential Building Permit", Required: true}},
		Fees:    []domain.Fee{{Name: "Plan review", Amount: 125}},
		Contact: domain.ContactInfo{Phone: "(512) 974-2000", Address: "somewhere else"},
		Notes:   "Apply online",
	}}
	website := okPage(j.Website, "Welcome to Austin")
	website.Structured.Emails = []string{"permits@austintexas.gov"}
	pages := map[string]*scraper.Result{
		j.Website:   website,
		j.PermitURL: okPage(j.PermitURL, "Building permits are required"),
	}

	h := newHarness(t, &fakeDiscoverer{jurisdiction: j}, pages, ext, circuitbreaker.New(circuitbreaker.Config{}))
	job := h.run(t)

	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, domain.ProgressDone, job.Progress)
	assert.Empty(t, job.Error)
	require.NotNil(t, job.EndTime)

	r := job.Result
	require.NotNil(t, r)
	assert.Equal(t, domain.ResultSourceExtracted, r.Source)
	assert.Equal(t, "Residential Building Permit", r.Permits[0].Name)
	assert.Equal(t, "Apply online", r.Notes)
	assert.Equal(t, []string{j.Website, j.PermitURL}, r.ScrapedURLs)
	assert.Equal(t, "(512) 974-2000", r.Jurisdiction.ContactInfo.Phone)
	assert.Equal(t, "permits@austintexas.gov", r.Jurisdiction.ContactInfo.Email)
	assert.Equal(t, "6310 Wilhelmina Delco Dr, Austin, TX 78752", r.Jurisdiction.ContactInfo.Address)
	assert.Nil(t, r.Validation)

	assert.Contains(t, ext.last.Content, "Source: "+j.Website)
	assert.Contains(t, ext.last.Content, "Building permits are required")

	assert.Equal(t, []int{40, 70, 100}, h.store.progress)
}

func TestExecuteJob_AllScrapesFailYieldsPlaceholder(t *testing.T) {
	ext := &fakeExtractor{}
	h := newHarness(t, &fakeDiscoverer{jurisdiction: austin()}, nil, ext, nil)

	job := h.run(t)

	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Result)
	assert.Equal(t, domain.ResultSourcePlaceholder, job.Result.Source)
	require.Len(t, job.Result.Permits, 1)
	assert.Equal(t, domain.PlaceholderPermitName, job.Result.Permits[0].Name)
	assert.Empty(t, job.Result.ScrapedURLs)
	assert.Equal(t, int32(0), ext.calls.Load())
	assert.Len(t, h.scraper.calls, 2)
}

func TestExecuteJob_NoJurisdiction(t *testing.T) {
	h := newHarness(t, &fakeDiscoverer{err: domain.ErrJurisdictionNotFound}, nil, nil, nil)

	job := h.run(t)

	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, "Could not find jurisdiction information for this address.", job.Error)
	assert.Nil(t, job.Result)
	assert.NotNil(t, job.EndTime)
	assert.Empty(t, h.scraper.calls)
}

func TestExecuteJob_DiscoveryErrorIsVerbatim(t *testing.T) {
	h := newHarness(t, &fakeDiscoverer{err: errors.New("directory unavailable")}, nil, nil, nil)

	job := h.run(t)

	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, "directory unavailable", job.Error)
	assert.Nil(t, job.Result)
}

func TestExecuteJob_PanicIsAbsorbed(t *testing.T) {
	h := newHarness(t, &fakeDiscoverer{panicWith: "nil map"}, nil, nil, nil)

	job := h.run(t)

	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "nil map")
}

func TestExecuteJob_ExtractionFallbacks(t *testing.T) {
	j := austin()
	pages := map[string]*scraper.Result{j.Website: okPage(j.Website, "Welcome")}

	tripped := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, ResetTimeout: time.Hour})
	_ = tripped.Execute(func() error { return errors.New("boom") })
	require.True(t, tripped.IsOpen())

	tests := []struct {
		name      string
		extractor *fakeExtractor
		breaker   Breaker
		wantCalls int32
	}{
		{name: "extractor error", extractor: &fakeExtractor{err: errors.New("OpenAI API call failed")}, wantCalls: 1},
		{name: "breaker open", extractor: &fakeExtractor{data: &domain.PermitData{Permits: []domain.Permit{{Name: "X"}}}}, breaker: tripped, wantCalls: 0},
		{name: "no extractor configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeDiscoverer{jurisdiction: j}, pages, tt.extractor, tt.breaker)

			job := h.run(t)

			assert.Equal(t, domain.JobStatusCompleted, job.Status)
			assert.Equal(t, domain.ResultSourcePlaceholder, job.Result.Source)
			require.Len(t, job.Result.Permits, 1)
			assert.Equal(t, j.PermitURL, job.Result.Permits[0].URL)
			assert.NotEmpty(t, job.Result.Notes)
			if tt.extractor != nil {
				assert.Equal(t, tt.wantCalls, tt.extractor.calls.Load())
			}
		})
	}
}

func TestExecuteJob_PermitLinkFallback(t *testing.T) {
	j := austin()
	j.PermitURL = ""

	website := okPage(j.Website, "Welcome")
	website.Structured.PermitLinks = []string{"https://www.austintexas.gov/building-permits", "https://www.austintexas.gov/other"}
	pages := map[string]*scraper.Result{
		j.Website: website,
		"https://www.austintexas.gov/building-permits": okPage("https://www.austintexas.gov/building-permits", "Permits"),
	}

	h := newHarness(t, &fakeDiscoverer{jurisdiction: j}, pages, nil, nil)
	job := h.run(t)

	assert.Equal(t, []string{j.Website, "https://www.austintexas.gov/building-permits"}, h.scraper.calls)
	assert.Equal(t, "https://www.austintexas.gov/building-permits", job.Result.Jurisdiction.PermitURL)
	assert.Len(t, job.Result.ScrapedURLs, 2)
}

func TestExecuteJob_PermitLinkSkipsDocumentsAndOtherHosts(t *testing.T) {
	j := austin()
	j.PermitURL = ""

	website := okPage(j.Website, "Welcome")
	website.Structured.PermitLinks = []string{
		"https://www.austintexas.gov/files/permit-application.pdf",
		"https://permits.example.com/apply",
		"https://austintexas.gov/residential-permits",
	}
	pages := map[string]*scraper.Result{j.Website: website}

	h := newHarness(t, &fakeDiscoverer{jurisdiction: j}, pages, nil, nil)
	job := h.run(t)

	assert.Equal(t, []string{j.Website, "https://austintexas.gov/residential-permits"}, h.scraper.calls)
	assert.Equal(t, "https://austintexas.gov/residential-permits", job.Result.Jurisdiction.PermitURL)
}

func TestPickPermitLink(t *testing.T) {
	tests := []struct {
		name    string
		website string
		links   []string
		want    string
	}{
		{name: "no links", website: "https://www.seattle.gov"},
		{name: "first page wins", website: "https://www.seattle.gov", links: []string{"https://www.seattle.gov/sdci/permits", "https://www.seattle.gov/other"}, want: "https://www.seattle.gov/sdci/permits"},
		{name: "uppercase document extension", website: "https://www.seattle.gov", links: []string{"https://www.seattle.gov/Forms/Permit.PDF"}},
		{name: "off-site only", website: "https://www.seattle.gov", links: []string{"https://accela.example.net/permits"}},
		{name: "non-http scheme", website: "https://www.seattle.gov", links: []string{"ftp://www.seattle.gov/permits"}},
		{name: "unparseable website", website: "://bad", links: []string{"https://www.seattle.gov/permits"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickPermitLink(tt.website, tt.links))
		})
	}
}

func TestExecuteJob_AttachesValidation(t *testing.T) {
	j := austin()
	v := &fakeValidator{result: &domain.ValidationResult{Valid: true, Confidence: 0.9}}

	store := storage.NewMemoryStore()
	m := NewManager(Config{ValidateResults: true}, Deps{
		Store:      store,
		Discoverer: &fakeDiscoverer{jurisdiction: j},
		Scraper:    &fakeScraper{},
		Validator:  v,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx := context.Background()
	job, err := m.CreateJob(ctx, testAddress)
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx, job.ID))

	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result.Validation)
	assert.Equal(t, 0.9, got.Result.Validation.Confidence)
	assert.Equal(t, "City of Austin", v.bundle.Jurisdiction.Name)
	assert.Len(t, v.bundle.Permits, 1)
}

func TestRun_ClaimErrors(t *testing.T) {
	h := newHarness(t, &fakeDiscoverer{err: domain.ErrJurisdictionNotFound}, nil, nil, nil)
	ctx := context.Background()

	err := h.manager.Run(ctx, "1700000000000-000000000000")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	job, err := h.manager.CreateJob(ctx, testAddress)
	require.NoError(t, err)
	require.NoError(t, h.manager.Run(ctx, job.ID))

	err = h.manager.Run(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)

	got, err := h.manager.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
}

func TestRun_CancelledContextStillFinalizes(t *testing.T) {
	j := austin()
	h := newHarness(t, &fakeDiscoverer{jurisdiction: j}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	job, err := h.manager.CreateJob(ctx, testAddress)
	require.NoError(t, err)
	cancel()

	// claim works on the memory store regardless of ctx; scraping observes the cancellation
	require.NoError(t, h.manager.Run(ctx, job.ID))

	got, err := h.manager.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "context canceled")
}

func TestGetJobStatsAndSweep(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeDiscoverer{err: domain.ErrJurisdictionNotFound}, nil, nil, nil)
	m := h.manager

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	failed, err := m.CreateJob(ctx, testAddress)
	require.NoError(t, err)
	m.ExecuteJob(ctx, failed.ID)

	_, err = m.CreateJob(ctx, testAddress)
	require.NoError(t, err)

	stats, err := m.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStats{Total: 2, Pending: 1, Failed: 1}, stats)
	assert.Equal(t, stats.Total, stats.Pending+stats.Running+stats.Completed+stats.Failed)

	removed, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	now = now.Add(31 * time.Minute)
	removed, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = m.GetJob(ctx, failed.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

// finalizeFailStore loses every terminal write, like a process dying before its last update
type finalizeFailStore struct {
	*storage.MemoryStore
}

func (s *finalizeFailStore) Update(ctx context.Context, job *domain.SearchJob) error {
	if job.Status.IsTerminal() {
		return errors.New("connection reset by peer")
	}
	return s.MemoryStore.Update(ctx, job)
}

func TestSweep_AbandonsUnfinishedJobs(t *testing.T) {
	ctx := context.Background()
	j := austin()
	store := &finalizeFailStore{MemoryStore: storage.NewMemoryStore()}
	m := NewManager(Config{JobTTL: 30 * time.Minute, StaleAfter: 35 * time.Minute}, Deps{
		Store:      store,
		Discoverer: &fakeDiscoverer{jurisdiction: j},
		Scraper:    &fakeScraper{results: map[string]*scraper.Result{j.Website: okPage(j.Website, "Welcome")}},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	job, err := m.CreateJob(ctx, testAddress)
	require.NoError(t, err)
	m.ExecuteJob(ctx, job.ID)

	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusRunning, got.Status)
	require.Equal(t, domain.ProgressScraped, got.Progress)

	now = now.Add(34 * time.Minute)
	_, err = m.Sweep(ctx)
	require.NoError(t, err)
	got, err = m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, got.Status, "not stale yet")

	now = now.Add(2 * time.Minute)
	removed, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	got, err = m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, domain.AbandonedJobMessage, got.Error)
	require.NotNil(t, got.EndTime)

	removed, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	_, err = m.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestNewManager_StaleAfterDefaultsToTwiceTTL(t *testing.T) {
	m := NewManager(Config{JobTTL: 10 * time.Minute}, Deps{Store: storage.NewMemoryStore()})
	assert.Equal(t, 20*time.Minute, m.cfg.StaleAfter)
}

func TestRunJanitor_StopsOnCancel(t *testing.T) {
	h := newHarness(t, &fakeDiscoverer{}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.manager.RunJanitor(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

type recordingRunner struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRunner) ExecuteJob(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func TestInlineDispatcher(t *testing.T) {
	runner := &recordingRunner{}
	d := NewInlineDispatcher(context.Background(), runner, time.Second)

	require.NoError(t, d.Dispatch(context.Background(), "a"))
	require.NoError(t, d.Dispatch(context.Background(), "b"))
	d.Wait()

	assert.ElementsMatch(t, []string{"a", "b"}, runner.ids)
}

type fakePublisher struct {
	body        []byte
	contentType string
	err         error
}

func (p *fakePublisher) PublishWithRetry(_ context.Context, body []byte, contentType string) error {
	p.body = body
	p.contentType = contentType
	return p.err
}

func TestQueueDispatcher(t *testing.T) {
	p := &fakePublisher{}
	d := NewQueueDispatcher(p)

	require.NoError(t, d.Dispatch(context.Background(), "1700000000000-0123456789ab"))
	assert.JSONEq(t, `{"job_id":"1700000000000-0123456789ab"}`, string(p.body))
	assert.Equal(t, "application/json", p.contentType)

	var msg JobMessage
	require.NoError(t, json.Unmarshal(p.body, &msg))
	assert.Equal(t, "1700000000000-0123456789ab", msg.JobID)

	p.err = errors.New("channel closed")
	assert.Error(t, d.Dispatch(context.Background(), "x"))
}
