// Package bootstrap builds the search pipeline from configuration. Both
// services share it so the api-service (inline dispatch) and the
// worker-service run identical pipelines.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/permit-search/internal/circuitbreaker"
	"github.com/cuongbtq/permit-search/internal/config"
	"github.com/cuongbtq/permit-search/internal/discovery"
	"github.com/cuongbtq/permit-search/internal/extraction"
	"github.com/cuongbtq/permit-search/internal/geocode"
	"github.com/cuongbtq/permit-search/internal/ratelimit"
	"github.com/cuongbtq/permit-search/internal/scraper"
	"github.com/cuongbtq/permit-search/internal/search"
	"github.com/cuongbtq/permit-search/internal/search/storage"
	"github.com/cuongbtq/permit-search/internal/validator"
)

// Pipeline holds the wired search components
type Pipeline struct {
	Manager *search.Manager

	// Validator grades pipeline results. RequestValidator serves client
	// bundles and only cross-references public hosts under its own limiter.
	Validator        *validator.Validator
	RequestValidator *validator.Validator

	Breaker  *circuitbreaker.CircuitBreaker
	External *ratelimit.Limiter
	Internal *ratelimit.Limiter
}

// Build wires the pipeline. db is only used by the postgres store and may be nil otherwise.
func Build(ctx context.Context, cfg *config.Config, db *sqlx.DB, logger *slog.Logger) (*Pipeline, error) {
	s := cfg.Search

	external := ratelimit.New(limiterConfig("external", s.RateLimits.External))
	internal := ratelimit.New(limiterConfig("internal", s.RateLimits.Internal))

	httpClient := &http.Client{}

	scrapeOpts := ScrapeOptions(s.Scrape)
	webScraper := scraper.New(httpClient, external, logger.With(slog.String("component", "scraper")))

	discoverer, err := buildDiscovery(s, httpClient, external, internal, logger)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg, db, logger)
	if err != nil {
		return nil, err
	}

	breakerLog := logger.With(slog.String("component", "circuit_breaker"))
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:             "ai_extraction",
		FailureThreshold: s.CircuitBreaker.FailureThreshold,
		SuccessThreshold: s.CircuitBreaker.SuccessThreshold,
		ResetTimeout:     s.CircuitBreaker.ResetTimeout,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			breakerLog.Warn("Circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	deps := search.Deps{
		Store:      store,
		Discoverer: discoverer,
		Scraper:    webScraper,
		Breaker:    breaker,
		Logger:     logger.With(slog.String("component", "search")),
	}

	if s.AI.Enabled {
		processor, err := extraction.New(extraction.Config{
			APIKey:          s.AI.APIKey,
			Model:           s.AI.Model,
			BaseURL:         s.AI.BaseURL,
			Timeout:         s.AI.Timeout,
			MaxContentChars: s.AI.MaxContentChars,
			MaxRetries:      s.AI.Retries(),
		}, internal, logger.With(slog.String("component", "extraction")))
		if err != nil {
			return nil, fmt.Errorf("failed to create permit data processor: %w", err)
		}
		deps.Extractor = processor
	} else {
		logger.Warn("AI extraction disabled, completed searches carry placeholder results")
	}

	validatorCfg := validator.Config{
		CacheTTL:      s.Validation.CacheTTL,
		CacheCapacity: s.Validation.CacheCapacity,
	}
	validatorLog := logger.With(slog.String("component", "validator"))

	dataValidator := validator.New(validatorCfg, validatorLog,
		validator.NewWebsiteCrossReference(webScraper, scrapeOpts))

	requestLimiter := ratelimit.New(limiterConfig("validate", s.RateLimits.External))
	requestScraper := scraper.New(scraper.PublicOnlyClient(), requestLimiter, logger.With(slog.String("component", "scraper")))
	requestValidator := validator.New(validatorCfg, validatorLog,
		validator.NewWebsiteCrossReference(requestScraper, scrapeOpts))

	if s.ValidateResults {
		deps.Validator = dataValidator
	}

	manager := search.NewManager(search.Config{
		MaxJobs:         s.MaxJobs,
		JobTTL:          s.JobTTL,
		StaleAfter:      s.JobTimeout + s.JobTTL,
		EstimatedTime:   s.EstimatedTime,
		ValidateResults: s.ValidateResults,
		ScrapeOptions:   scrapeOpts,
	}, deps)

	return &Pipeline{
		Manager:          manager,
		Validator:        dataValidator,
		RequestValidator: requestValidator,
		Breaker:          breaker,
		External:         external,
		Internal:         internal,
	}, nil
}

// Close stops background goroutines owned by the pipeline
func (p *Pipeline) Close() {
	p.Validator.Close()
	p.RequestValidator.Close()
}

// ScrapeOptions maps the scrape section onto scraper options
func ScrapeOptions(c config.ScrapeConfig) scraper.Options {
	opts := scraper.DefaultOptions()
	if c.Timeout > 0 {
		opts.Timeout = c.Timeout
	}
	if c.DelayBetweenRequests > 0 {
		opts.DelayBetweenRequests = c.DelayBetweenRequests
	}
	if c.MaxRetries != nil && *c.MaxRetries >= 0 {
		opts.MaxRetries = *c.MaxRetries
	}
	opts.EnableAdvancedExtraction = c.AdvancedExtractionEnabled()
	if c.MaxBodyBytes > 0 {
		opts.MaxBodyBytes = c.MaxBodyBytes
	}
	if c.UserAgent != "" {
		opts.UserAgent = c.UserAgent
	}
	return opts
}

func limiterConfig(name string, c config.RateLimitConfig) ratelimit.Config {
	return ratelimit.Config{
		Name:              name,
		RequestsPerSecond: c.RequestsPerSecond,
		RequestsPerMinute: c.RequestsPerMinute,
		Burst:             c.Burst,
		MaxWait:           c.MaxWait,
	}
}

func buildDiscovery(s config.SearchConfig, httpClient *http.Client, external, internal *ratelimit.Limiter, logger *slog.Logger) (*discovery.Service, error) {
	log := logger.With(slog.String("component", "discovery"))

	var directory *discovery.Directory
	if s.Discovery.DirectoryPath != "" {
		d, err := discovery.LoadDirectory(s.Discovery.DirectoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load jurisdiction directory: %w", err)
		}
		log.Info("Jurisdiction directory loaded",
			slog.String("path", s.Discovery.DirectoryPath),
			slog.Int("entries", d.Len()))
		directory = d
	}

	var prober *discovery.Prober
	if s.Discovery.ProbeEnabled {
		prober = discovery.NewProber(httpClient, external, s.Discovery.ProbeCandidates, s.Discovery.ProbeTimeout, log)
	}

	// a nil *geocode.Client must not end up in the interface
	var geocoder discovery.Geocoder
	if s.Geocoder.Enabled {
		geocoder = geocode.New(geocode.Config{
			BaseURL:   s.Geocoder.BaseURL,
			Benchmark: s.Geocoder.Benchmark,
			Vintage:   s.Geocoder.Vintage,
			Timeout:   s.Geocoder.Timeout,
		}, httpClient, internal, logger.With(slog.String("component", "geocoder")))
	}

	return discovery.NewService(geocoder, directory, prober, log), nil
}

func buildStore(ctx context.Context, cfg *config.Config, db *sqlx.DB, logger *slog.Logger) (search.Store, error) {
	if cfg.Search.Store != config.StorePostgres {
		return storage.NewMemoryStore(), nil
	}

	if db == nil {
		return nil, fmt.Errorf("postgres store requires a database connection")
	}

	store := storage.NewPostgresStore(db, logger.With(slog.String("component", "job_store")))
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		logger.Info("search_jobs schema migrated")
	}
	return store, nil
}
