package dto

import (
	"strings"
	"time"

	"github.com/cuongbtq/permit-search/internal/domain"
)

// AddressDTO is the mailing address submitted by a client
type AddressDTO struct {
	Street string `json:"street" binding:"required"`
	City   string `json:"city" binding:"required"`
	State  string `json:"state" binding:"required"`
	Zip    string `json:"zip"`
	County string `json:"county"`
}

// ToDomain trims every field
func (a AddressDTO) ToDomain() domain.Address {
	return domain.Address{
		Street: strings.TrimSpace(a.Street),
		City:   strings.TrimSpace(a.City),
		State:  strings.TrimSpace(a.State),
		Zip:    strings.TrimSpace(a.Zip),
		County: strings.TrimSpace(a.County),
	}
}

type CreateSearchRequest struct {
	Address AddressDTO `json:"address"`
}

type CreateSearchResponse struct {
	JobID                string           `json:"job_id"`
	Status               domain.JobStatus `json:"status"`
	EstimatedTimeSeconds int              `json:"estimated_time_seconds"`
}

type SearchStatusResponse struct {
	JobID         string                 `json:"job_id"`
	Status        domain.JobStatus       `json:"status"`
	Progress      int                    `json:"progress"`
	ElapsedTimeMs int64                  `json:"elapsed_time_ms"`
	Result        *domain.SearchResponse `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// NewSearchStatusResponse maps a job snapshot taken at now
func NewSearchStatusResponse(job *domain.SearchJob, now time.Time) SearchStatusResponse {
	return SearchStatusResponse{
		JobID:         job.ID,
		Status:        job.Status,
		Progress:      job.Progress,
		ElapsedTimeMs: job.Elapsed(now).Milliseconds(),
		Result:        job.Result,
		Error:         job.Error,
	}
}

type ValidateRequest struct {
	Jurisdiction domain.Jurisdiction `json:"jurisdiction"`
	Permits      []domain.Permit     `json:"permits"`
	Fees         []domain.Fee        `json:"fees"`
	Contact      domain.ContactInfo  `json:"contact"`
}

func (r ValidateRequest) ToDomain() domain.ValidationBundle {
	return domain.ValidationBundle{
		Jurisdiction: r.Jurisdiction,
		Permits:      r.Permits,
		Fees:         r.Fees,
		Contact:      r.Contact,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
