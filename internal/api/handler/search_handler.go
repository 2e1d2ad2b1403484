package handler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/cuongbtq/permit-search/internal/api/dto"
	"github.com/cuongbtq/permit-search/internal/domain"
	"github.com/gin-gonic/gin"
)

// CreateSearch handles POST /api/v1/searches
// Stores a pending job and hands it to the dispatcher
func (h *SearchHandler) CreateSearch(c *gin.Context) {
	var req dto.CreateSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid search request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request body",
			Details: err.Error(),
		})
		return
	}

	ctx := c.Request.Context()

	job, err := h.manager.CreateJob(ctx, req.Address.ToDomain())
	if err != nil {
		h.logger.Error("Failed to create search job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to create search job"})
		return
	}

	if err := h.dispatcher.Dispatch(ctx, job.ID); err != nil {
		h.logger.Error("Failed to dispatch search job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))

		// an undispatched job would stay pending forever
		discardCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if derr := h.manager.DiscardJob(discardCtx, job.ID); derr != nil {
			h.logger.Error("Failed to discard undispatched job",
				slog.String("job_id", job.ID),
				slog.String("error", derr.Error()))
		}

		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "search queue unavailable, try again later"})
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateSearchResponse{
		JobID:                job.ID,
		Status:               job.Status,
		EstimatedTimeSeconds: int(math.Ceil(h.manager.EstimatedTime().Seconds())),
	})
}

// GetSearch handles GET /api/v1/searches/:job_id
func (h *SearchHandler) GetSearch(c *gin.Context) {
	jobID := c.Param("job_id")

	if !domain.ValidJobID(jobID) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
		return
	}

	job, err := h.manager.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
			return
		}
		h.logger.Error("Failed to get search job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to get search job"})
		return
	}

	c.JSON(http.StatusOK, dto.NewSearchStatusResponse(job, h.now()))
}

// GetStats handles GET /api/v1/searches/stats
func (h *SearchHandler) GetStats(c *gin.Context) {
	stats, err := h.manager.GetJobStats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get job stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to get job stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Validate handles POST /api/v1/validate
func (h *SearchHandler) Validate(c *gin.Context) {
	if h.validator == nil {
		c.JSON(http.StatusNotImplemented, dto.ErrorResponse{Error: "validation is disabled"})
		return
	}

	var req dto.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request body",
			Details: err.Error(),
		})
		return
	}

	result, err := h.validator.Validate(c.Request.Context(), req.ToDomain())
	if err != nil {
		h.logger.Error("Validation failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "validation failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}
