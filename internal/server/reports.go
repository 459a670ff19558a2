package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/deeres/internal/agent/core"
	"github.com/mohammad-safakhou/deeres/internal/jobs"
	"go.uber.org/zap"
)

// ReportsHandler submits report jobs and serves their status.
type ReportsHandler struct {
	jobs   Jobs
	logger *zap.Logger
}

func (h *ReportsHandler) Register(g *echo.Group) {
	g.POST("/generate-report", h.generate)
	g.GET("/job-status/:job_id", h.status)
}

// generate
//
//	@Summary	Submit a report request
//	@Tags		reports
//	@Accept		json
//	@Produce	json
//	@Param		X-API-Key	header		string					true	"API key"
//	@Param		payload		body		GenerateReportRequest	true	"Report request"
//	@Success	200			{object}	GenerateReportResponse
//	@Failure	400			{object}	HTTPError
//	@Failure	401			{object}	HTTPError
//	@Router		/generate-report [post]
func (h *ReportsHandler) generate(c echo.Context) error {
	var req GenerateReportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Topic) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Topic is required")
	}

	job, err := h.jobs.Submit(c.Request().Context(), jobs.Request{Topic: req.Topic, Overrides: req.ConfigOverrides})
	switch {
	case errors.Is(err, core.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrStopped):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Server is shutting down")
	case err != nil:
		return err
	}

	resp := GenerateReportResponse{
		JobID:           job.ID,
		Status:          string(job.Status),
		Message:         job.Message,
		PositionInQueue: job.QueuePosition,
		EstimatedTime:   job.EstimatedWaitSeconds,
	}
	if job.Status == jobs.StatusQueued && job.QueuePosition != nil {
		resp.Message = fmt.Sprintf("Your request is queued (position %d)", *job.QueuePosition)
	}
	return c.JSON(http.StatusOK, resp)
}

// status
//
//	@Summary	Job status
//	@Tags		reports
//	@Produce	json
//	@Param		X-API-Key	header		string	true	"API key"
//	@Param		job_id		path		string	true	"Job id"
//	@Success	200			{object}	jobs.Job
//	@Failure	401			{object}	HTTPError
//	@Failure	404			{object}	HTTPError
//	@Router		/job-status/{job_id} [get]
func (h *ReportsHandler) status(c echo.Context) error {
	id := c.Param("job_id")
	job, err := h.jobs.Status(id)
	if errors.Is(err, jobs.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Job with ID %s not found", id))
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}
