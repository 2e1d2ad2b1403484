package validator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cuongbtq/permit-search/internal/domain"
)

// Cache defaults
const (
	DefaultCacheTTL      = time.Hour
	DefaultCacheCapacity = 1000
)

// CrossReferenceSource checks a bundle against an independent source
type CrossReferenceSource interface {
	Name() string
	Check(ctx context.Context, bundle domain.ValidationBundle) (*domain.CrossReference, error)
}

// Config for the validator
type Config struct {
	CacheTTL      time.Duration
	CacheCapacity uint64
}

// Validator grades permit data and caches the outcome
type Validator struct {
	sources   []CrossReferenceSource
	cache     *ttlcache.Cache[string, *domain.ValidationResult]
	closeOnce sync.Once
	logger    *slog.Logger
}

// New creates a validator with the given cross-reference sources
func New(cfg Config, logger *slog.Logger, sources ...CrossReferenceSource) *Validator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	results := ttlcache.New[string, *domain.ValidationResult](
		ttlcache.WithTTL[string, *domain.ValidationResult](cfg.CacheTTL),
		ttlcache.WithCapacity[string, *domain.ValidationResult](cfg.CacheCapacity),
		ttlcache.WithDisableTouchOnHit[string, *domain.ValidationResult](),
	)
	go results.Start()

	return &Validator{
		sources: sources,
		cache:   results,
		logger:  logger,
	}
}

// Close stops the cache janitor
func (v *Validator) Close() {
	v.closeOnce.Do(v.cache.Stop)
}

// Validate runs every check on bundle. Identical bundles are answered from cache.
func (v *Validator) Validate(ctx context.Context, bundle domain.ValidationBundle) (*domain.ValidationResult, error) {
	key, err := cacheKey(bundle)
	if err != nil {
		return nil, err
	}

	if item := v.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	issues := runChecks(bundle)

	var refs []domain.CrossReference
	for _, src := range v.sources {
		ref, err := src.Check(ctx, bundle)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			v.logger.Warn("Cross reference failed",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()))
			continue
		}
		if ref != nil {
			refs = append(refs, *ref)
		}
	}

	result := &domain.ValidationResult{
		Valid:           isValid(issues),
		Confidence:      confidence(issues, refs),
		Issues:          issues,
		Suggestions:     suggestions(issues),
		CrossReferences: refs,
	}

	v.cache.Set(key, result, ttlcache.DefaultTTL)
	return result, nil
}

// cacheKey hashes the whole bundle so only identical inputs share an entry
func cacheKey(bundle domain.ValidationBundle) (string, error) {
	data, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("failed to encode bundle: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func isValid(issues []domain.ValidationIssue) bool {
	for _, issue := range issues {
		if issue.Severity == domain.SeverityCritical || issue.Severity == domain.SeverityHigh {
			return false
		}
	}
	return true
}

// confidence is 1 minus severity penalties, floored at 0, blended 70/30 with
// the mean cross-reference confidence when there is any
func confidence(issues []domain.ValidationIssue, refs []domain.CrossReference) float64 {
	base := 1.0
	for _, issue := range issues {
		base -= issue.Severity.Penalty()
	}
	base = math.Max(base, 0)

	if len(refs) == 0 {
		return round(base)
	}

	var sum float64
	for _, ref := range refs {
		sum += ref.Confidence
	}
	return round(0.7*base + 0.3*(sum/float64(len(refs))))
}

func round(f float64) float64 {
	return math.Round(f*1000) / 1000
}
