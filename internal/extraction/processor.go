package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/cuongbtq/permit-search/internal/domain"
)

const (
	// DefaultModel is used when no model is configured
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout bounds one Extract call including retries
	DefaultTimeout = 60 * time.Second

	// DefaultMaxContentChars caps the page text sent to the model
	DefaultMaxContentChars = 12000

	// DefaultMaxRetries is the number of retries on rate limit responses
	DefaultMaxRetries = 3

	baseBackoff = 2 * time.Second
	maxBackoff  = 32 * time.Second

	jsonParseMaxRetries = 1
)

var (
	// ErrAPIKeyNotSet is returned when the processor is built without an API key
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set")

	// ErrNoPermits is returned when the model found no permits in the content
	ErrNoPermits = errors.New("no permits extracted")

	// ErrMaxRetriesExceeded is returned when rate limiting outlasts all retries
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// Limiter gates outgoing requests
type Limiter interface {
	WaitForSlot(ctx context.Context) error
}

// Config for the OpenAI backed processor
type Config struct {
	APIKey          string
	Model           string
	BaseURL         string
	Timeout         time.Duration
	MaxContentChars int
	MaxRetries      int
}

// Request is the input of one extraction
type Request struct {
	Address      domain.Address
	Jurisdiction domain.Jurisdiction
	Content      string
}

// Processor turns scraped page text into structured permit data
type Processor struct {
	client  openai.Client
	cfg     Config
	limiter Limiter
	logger  *slog.Logger
	backoff time.Duration
}

// New creates a processor; it fails with ErrAPIKeyNotSet when no key is configured
func New(cfg Config, limiter Limiter, logger *slog.Logger) (*Processor, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = DefaultMaxContentChars
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Processor{
		client:  openai.NewClient(opts...),
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
		backoff: baseBackoff,
	}, nil
}

// Model returns the configured model name
func (p *Processor) Model() string {
	return p.cfg.Model
}

// Extract asks the model for the permits, fees and contact details found in req.Content
func (p *Processor) Extract(ctx context.Context, req Request) (*domain.PermitData, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("extract: empty content")
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(buildUserPrompt(req, p.cfg.MaxContentChars)),
	}

	var parseRetries int
	for {
		content, err := p.completeWithRetry(ctx, messages)
		if err != nil {
			return nil, err
		}

		data, err := parsePermitData(content)
		if err != nil {
			parseRetries++
			if parseRetries > jsonParseMaxRetries {
				return nil, fmt.Errorf("extract: JSON parse failed after %d retries: %w", jsonParseMaxRetries, err)
			}
			p.logger.Debug("Model returned invalid JSON, retrying", slog.String("error", err.Error()))
			continue
		}

		if len(data.Permits) == 0 {
			return nil, ErrNoPermits
		}

		p.logger.Debug("Permit data extracted",
			slog.String("jurisdiction", req.Jurisdiction.Name),
			slog.Int("permits", len(data.Permits)),
			slog.Int("fees", len(data.Fees)))

		return data, nil
	}
}

// completeWithRetry retries rate limited calls with exponential backoff
func (p *Processor) completeWithRetry(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.backoff * time.Duration(1<<(attempt-1))
			if backoff > maxBackoff {
				backoff = maxBackoff
			}

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		if p.limiter != nil {
			if err := p.limiter.WaitForSlot(ctx); err != nil {
				return "", fmt.Errorf("extract: %w", err)
			}
		}

		params := openai.ChatCompletionNewParams{
			Model:       shared.ChatModel(p.cfg.Model),
			Messages:    messages,
			Temperature: openai.Float(0),
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{
					Type: "json_object",
				},
			},
		}

		completion, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				p.logger.Warn("OpenAI rate limited", slog.Int("attempt", attempt+1))
				continue
			}
			return "", fmt.Errorf("OpenAI API call failed: %w", err)
		}

		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("no completion choices returned")
		}

		return completion.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// parsePermitData decodes the model output, tolerating markdown code fences
func parsePermitData(content string) (*domain.PermitData, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	var data domain.PermitData
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, err
	}

	permits := data.Permits[:0]
	for _, permit := range data.Permits {
		permit.Name = strings.TrimSpace(permit.Name)
		if permit.Name != "" {
			permits = append(permits, permit)
		}
	}
	data.Permits = permits

	return &data, nil
}
