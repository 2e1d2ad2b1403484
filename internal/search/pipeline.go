package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cuongbtq/permit-search/internal/domain"
	"github.com/cuongbtq/permit-search/internal/extraction"
	"github.com/cuongbtq/permit-search/internal/scraper"
)

const finalizeTimeout = 10 * time.Second

// ExecuteJob runs the job and absorbs every error into its state. It never fails the caller.
func (m *Manager) ExecuteJob(ctx context.Context, id string) {
	if err := m.Run(ctx, id); err != nil {
		m.logger.Error("Search job did not run to completion",
			slog.String("job_id", id),
			slog.String("error", err.Error()))
	}
}

// Run claims the job and drives it to a terminal state. Pipeline failures end in
// a failed job and a nil return; only claim and storage errors are returned.
func (m *Manager) Run(ctx context.Context, id string) error {
	job, err := m.store.Claim(ctx, id)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", id, err)
	}

	start := m.now()
	m.logger.Info("Search job started",
		slog.String("job_id", id),
		slog.String("address", job.Address.OneLine()))

	result, pipelineErr := m.safeExecute(ctx, job)

	// the terminal write must land even when the job context has expired
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if errors.Is(pipelineErr, domain.ErrJobFinalized) {
		return pipelineErr
	}

	if pipelineErr != nil {
		msg := pipelineErr.Error()
		if errors.Is(pipelineErr, domain.ErrJurisdictionNotFound) {
			msg = domain.JurisdictionNotFoundMessage
		}
		if err := job.Fail(msg, m.now()); err != nil {
			return err
		}
		m.logger.Warn("Search job failed",
			slog.String("job_id", id),
			slog.String("error", msg),
			slog.Duration("duration", m.now().Sub(start)))
	} else {
		if err := job.Complete(result, m.now()); err != nil {
			return err
		}
		m.logger.Info("Search job completed",
			slog.String("job_id", id),
			slog.String("source", string(result.Source)),
			slog.Int("permits", len(result.Permits)),
			slog.Duration("duration", m.now().Sub(start)))
	}

	if err := m.store.Update(writeCtx, job); err != nil {
		return fmt.Errorf("failed to finalize job %s: %w", id, err)
	}
	return nil
}

func (m *Manager) safeExecute(ctx context.Context, job *domain.SearchJob) (result *domain.SearchResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Search pipeline panicked",
				slog.String("job_id", job.ID),
				slog.Any("panic", r))
			result, err = nil, fmt.Errorf("internal error: %v", r)
		}
	}()
	return m.execute(ctx, job)
}

func (m *Manager) execute(ctx context.Context, job *domain.SearchJob) (*domain.SearchResponse, error) {
	jurisdiction, err := m.discoverer.Discover(ctx, job.Address)
	if err != nil {
		return nil, err
	}
	if jurisdiction == nil {
		return nil, domain.ErrJurisdictionNotFound
	}

	m.logger.Info("Jurisdiction discovered",
		slog.String("job_id", job.ID),
		slog.String("jurisdiction", jurisdiction.Name),
		slog.String("source", jurisdiction.Source))

	if err := m.advance(ctx, job, domain.ProgressDiscovered); err != nil {
		return nil, err
	}

	pages := m.scrape(ctx, job.ID, jurisdiction)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search interrupted while scraping: %w", err)
	}

	if err := m.advance(ctx, job, domain.ProgressScraped); err != nil {
		return nil, err
	}

	data, source, reason := m.extract(ctx, job, jurisdiction, pages)

	jurisdiction.ContactInfo = jurisdiction.ContactInfo.
		Merge(data.Contact).
		Merge(scrapedContact(pages))
	if jurisdiction.Hours == "" {
		jurisdiction.Hours = jurisdiction.ContactInfo.Hours
	}

	notes := data.Notes
	if reason != "" {
		notes = reason
	}

	response := &domain.SearchResponse{
		Address:      job.Address,
		Jurisdiction: *jurisdiction,
		Permits:      data.Permits,
		Fees:         data.Fees,
		Source:       source,
		Notes:        notes,
		ScrapedURLs:  pageURLs(pages),
		GeneratedAt:  m.now(),
	}

	if m.cfg.ValidateResults && m.validator != nil {
		m.attachValidation(ctx, job.ID, response)
	}

	return response, nil
}

// advance persists a progress checkpoint
func (m *Manager) advance(ctx context.Context, job *domain.SearchJob, progress int) error {
	job.SetProgress(progress)
	if err := m.store.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to record progress: %w", err)
	}
	return nil
}

// scrape fetches the website and the permit page. A failed URL is logged and skipped.
func (m *Manager) scrape(ctx context.Context, jobID string, j *domain.Jurisdiction) []*scraper.Result {
	var pages []*scraper.Result
	scraped := make(map[string]bool)

	fetch := func(target string) *scraper.Result {
		if target == "" || scraped[target] {
			return nil
		}
		scraped[target] = true

		res := m.scraper.ScrapeURL(ctx, target, m.cfg.ScrapeOptions)
		if !res.Success {
			m.logger.Warn("Scrape failed, skipping",
				slog.String("job_id", jobID),
				slog.String("url", target),
				slog.String("error", res.Error))
			return nil
		}
		pages = append(pages, res)
		return res
	}

	website := fetch(j.Website)

	permitURL := j.PermitURL
	if permitURL == "" && website != nil && website.Structured != nil {
		permitURL = pickPermitLink(website.URL, website.Structured.PermitLinks)
		j.PermitURL = permitURL
	}
	fetch(permitURL)

	return pages
}

// extract runs AI extraction behind the breaker and falls back to a placeholder
func (m *Manager) extract(ctx context.Context, job *domain.SearchJob, j *domain.Jurisdiction, pages []*scraper.Result) (*domain.PermitData, domain.ResultSource, string) {
	content := joinContent(pages)

	var reason string
	switch {
	case content == "":
		reason = "No website content could be retrieved for this jurisdiction."
	case m.extractor == nil:
		reason = "Automatic permit extraction is not configured."
	case m.breaker != nil && m.breaker.IsOpen():
		reason = "Automatic permit extraction is temporarily unavailable."
	}
	if reason != "" {
		m.logger.Info("Using placeholder permits",
			slog.String("job_id", job.ID),
			slog.String("reason", reason))
		return placeholder(j), domain.ResultSourcePlaceholder, reason
	}

	req := extraction.Request{Address: job.Address, Jurisdiction: *j, Content: content}

	var data *domain.PermitData
	call := func() error {
		d, err := m.extractor.Extract(ctx, req)
		if err != nil {
			return err
		}
		data = d
		return nil
	}

	var err error
	if m.breaker != nil {
		err = m.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		m.logger.Warn("Permit extraction failed, using placeholder",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return placeholder(j), domain.ResultSourcePlaceholder, "Automatic permit extraction failed."
	}

	return data, domain.ResultSourceExtracted, ""
}

func (m *Manager) attachValidation(ctx context.Context, jobID string, r *domain.SearchResponse) {
	result, err := m.validator.Validate(ctx, domain.ValidationBundle{
		Jurisdiction: r.Jurisdiction,
		Permits:      r.Permits,
		Fees:         r.Fees,
		Contact:      r.Jurisdiction.ContactInfo,
	})
	if err != nil {
		m.logger.Warn("Result validation failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
		return
	}
	r.Validation = result
}

// placeholder is the single generic permit reported when extraction is unavailable
func placeholder(j *domain.Jurisdiction) *domain.PermitData {
	link := j.PermitURL
	if link == "" {
		link = j.Website
	}
	return &domain.PermitData{
		Permits: []domain.Permit{{
			Name:        domain.PlaceholderPermitName,
			Description: fmt.Sprintf("Contact %s to confirm which permits your project requires.", j.Name),
			Required:    true,
			URL:         link,
		}},
	}
}

var documentExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".zip": true, ".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
}

// pickPermitLink returns the first link on the website's own host that is a page rather than a document
func pickPermitLink(website string, links []string) string {
	base, err := url.Parse(website)
	if err != nil {
		return ""
	}
	home := strings.TrimPrefix(strings.ToLower(base.Hostname()), "www.")

	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") != home {
			continue
		}
		if documentExtensions[strings.ToLower(path.Ext(u.Path))] {
			continue
		}
		return link
	}
	return ""
}

func joinContent(pages []*scraper.Result) string {
	var parts []string
	for _, p := range pages {
		if strings.TrimSpace(p.Content) == "" {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Source: %s\n", p.URL)
		if p.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", p.Title)
		}
		b.WriteString(p.Content)
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n")
}

func scrapedContact(pages []*scraper.Result) domain.ContactInfo {
	var c domain.ContactInfo
	for _, p := range pages {
		if p.Structured == nil {
			continue
		}
		if c.Phone == "" && len(p.Structured.Phones) > 0 {
			c.Phone = p.Structured.Phones[0]
		}
		if c.Email == "" && len(p.Structured.Emails) > 0 {
			c.Email = p.Structured.Emails[0]
		}
	}
	return c
}

func pageURLs(pages []*scraper.Result) []string {
	urls := make([]string, 0, len(pages))
	for _, p := range pages {
		urls = append(urls, p.URL)
	}
	return urls
}
