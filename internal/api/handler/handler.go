package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/permit-search/internal/domain"
	"github.com/cuongbtq/permit-search/internal/search"
)

// JobManager is the part of the search manager the API needs
type JobManager interface {
	CreateJob(ctx context.Context, addr domain.Address) (*domain.SearchJob, error)
	GetJob(ctx context.Context, id string) (*domain.SearchJob, error)
	GetJobStats(ctx context.Context) (domain.JobStats, error)
	DiscardJob(ctx context.Context, id string) error
	EstimatedTime() time.Duration
}

// Validator checks a permit data bundle
type Validator interface {
	Validate(ctx context.Context, bundle domain.ValidationBundle) (*domain.ValidationResult, error)
}

// HealthChecker is implemented by the database and broker clients
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	ServiceName  string
	Manager      JobManager
	Dispatcher   search.Dispatcher
	Validator    Validator
	HealthChecks map[string]HealthChecker
}

// SearchHandler handles search-related HTTP requests
type SearchHandler struct {
	logger     *slog.Logger
	manager    JobManager
	dispatcher search.Dispatcher
	validator  Validator
	now        func() time.Time
}

// NewSearchHandler creates a new SearchHandler instance
func NewSearchHandler(deps *Dependencies) *SearchHandler {
	return &SearchHandler{
		logger:     deps.Logger,
		manager:    deps.Manager,
		dispatcher: deps.Dispatcher,
		validator:  deps.Validator,
		now:        time.Now,
	}
}
