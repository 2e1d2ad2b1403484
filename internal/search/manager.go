package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/permit-search/internal/domain"
	"github.com/cuongbtq/permit-search/internal/extraction"
	"github.com/cuongbtq/permit-search/internal/scraper"
)

// Defaults for the job table
const (
	DefaultMaxJobs       = 100
	DefaultJobTTL        = 30 * time.Minute
	DefaultEstimatedTime = 30 * time.Second
)

// Discoverer finds the jurisdiction for an address
type Discoverer interface {
	Discover(ctx context.Context, addr domain.Address) (*domain.Jurisdiction, error)
}

// Scraper fetches a web page
type Scraper interface {
	ScrapeURL(ctx context.Context, url string, opts scraper.Options) *scraper.Result
}

// Extractor turns page text into permit data
type Extractor interface {
	Extract(ctx context.Context, req extraction.Request) (*domain.PermitData, error)
}

// Breaker guards the extractor
type Breaker interface {
	Execute(fn func() error) error
	IsOpen() bool
}

// Validator grades a finished result
type Validator interface {
	Validate(ctx context.Context, bundle domain.ValidationBundle) (*domain.ValidationResult, error)
}

// Config tunes the manager
type Config struct {
	MaxJobs int
	JobTTL  time.Duration

	// StaleAfter is the age at which a job still pending or running is
	// failed as abandoned. Defaults to twice the TTL.
	StaleAfter time.Duration

	EstimatedTime   time.Duration
	ValidateResults bool
	ScrapeOptions   scraper.Options
}

// Deps are the collaborators of the manager. Extractor, Breaker and Validator are optional.
type Deps struct {
	Store      Store
	Discoverer Discoverer
	Scraper    Scraper
	Extractor  Extractor
	Breaker    Breaker
	Validator  Validator
	Logger     *slog.Logger
}

// Manager creates search jobs and drives them through the pipeline
type Manager struct {
	cfg        Config
	store      Store
	discoverer Discoverer
	scraper    Scraper
	extractor  Extractor
	breaker    Breaker
	validator  Validator
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager creates a Manager instance
func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = DefaultMaxJobs
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = DefaultJobTTL
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * cfg.JobTTL
	}
	if cfg.EstimatedTime <= 0 {
		cfg.EstimatedTime = DefaultEstimatedTime
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:        cfg,
		store:      deps.Store,
		discoverer: deps.Discoverer,
		scraper:    deps.Scraper,
		extractor:  deps.Extractor,
		breaker:    deps.Breaker,
		validator:  deps.Validator,
		logger:     logger,
		now:        time.Now,
	}
}

// EstimatedTime is the typical duration of a job, reported to clients on creation
func (m *Manager) EstimatedTime() time.Duration {
	return m.cfg.EstimatedTime
}

// CreateJob stores a pending job for addr. When the table is full, expired and
// stale jobs are evicted first; the insert happens either way.
func (m *Manager) CreateJob(ctx context.Context, addr domain.Address) (*domain.SearchJob, error) {
	count, err := m.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	if count >= m.cfg.MaxJobs {
		removed, abandoned, err := m.evict(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to evict jobs: %w", err)
		}
		m.logger.Info("Job table full, evicted expired jobs",
			slog.Int("count", count),
			slog.Int64("evicted", removed),
			slog.Int64("abandoned", abandoned))
	}

	now := m.now()
	job := domain.NewSearchJob(newJobID(now), addr, now)
	if err := m.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	m.logger.Info("Search job created",
		slog.String("job_id", job.ID),
		slog.String("address", addr.OneLine()))

	return job, nil
}

// GetJob returns domain.ErrJobNotFound for unknown or evicted jobs
func (m *Manager) GetJob(ctx context.Context, id string) (*domain.SearchJob, error) {
	return m.store.Get(ctx, id)
}

// GetJobStats returns per-status counts
func (m *Manager) GetJobStats(ctx context.Context) (domain.JobStats, error) {
	return m.store.Stats(ctx)
}

// DiscardJob removes a job that could not be dispatched
func (m *Manager) DiscardJob(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// Sweep deletes finished jobs older than the TTL and fails unfinished jobs
// older than StaleAfter. Abandoned jobs are removed by a later sweep.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	removed, abandoned, err := m.evict(ctx)
	if err != nil {
		return removed, fmt.Errorf("failed to sweep jobs: %w", err)
	}
	if removed > 0 || abandoned > 0 {
		m.logger.Info("Expired jobs swept",
			slog.Int64("removed", removed),
			slog.Int64("abandoned", abandoned))
	}
	return removed, nil
}

func (m *Manager) evict(ctx context.Context) (removed, abandoned int64, err error) {
	now := m.now()

	removed, err = m.store.DeleteTerminalBefore(ctx, now.Add(-m.cfg.JobTTL))
	if err != nil {
		return 0, 0, err
	}

	abandoned, err = m.store.AbandonStaleBefore(ctx, now.Add(-m.cfg.StaleAfter), now, domain.AbandonedJobMessage)
	if err != nil {
		return removed, 0, err
	}
	return removed, abandoned, nil
}

// RunJanitor sweeps on every interval until ctx is done
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("Job sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// newJobID is the creation time in milliseconds plus 12 random hex digits
func newJobID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%d-%s", now.UnixMilli(), random[:12])
}
