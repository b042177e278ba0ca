package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/einvoice/connector/internal/application/pipeline"
	"github.com/einvoice/connector/internal/domain/connector"
	"github.com/einvoice/connector/internal/infrastructure/logger"
)

// PullTrigger starts a pull run for a connection
type PullTrigger interface {
	Trigger(ctx context.Context, providerID string, limit int) (*pipeline.RunResult, error)
}

// PullHandler exposes on-demand pull runs over HTTP. A run paginates the
// provider's list endpoint and transforms every record; the response carries
// the run summary.
type PullHandler struct {
	trigger PullTrigger
	logger  *zap.Logger
}

// NewPullHandler creates a PullHandler
func NewPullHandler(trigger PullTrigger, log *zap.Logger) *PullHandler {
	return &PullHandler{
		trigger: trigger,
		logger:  log,
	}
}

// PullFailure is one failed record in a pull response
type PullFailure struct {
	ExternalID string `json:"external_id,omitempty"`
	Message    string `json:"message"`
}

// PullResponse is the summary body of a pull run
type PullResponse struct {
	Status        string        `json:"status"`
	TotalCount    int           `json:"total_count"`
	SuccessCount  int           `json:"success_count"`
	FailedCount   int           `json:"failed_count"`
	FailedRecords []PullFailure `json:"failed_records,omitempty"`
	CompletedAt   time.Time     `json:"completed_at"`
	Message       string        `json:"message,omitempty"`
}

// Handle receives POST /connections/:provider/pull. The optional limit query
// parameter caps the number of records pulled.
func (h *PullHandler) Handle(c *gin.Context) {
	providerID := c.Param("provider")
	log := logger.GetGinLogger(c)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, PullResponse{
				Status:  "rejected",
				Message: "Invalid limit parameter",
			})
			return
		}
		limit = parsed
	}

	result, err := h.trigger.Trigger(c.Request.Context(), providerID, limit)
	if err != nil {
		status, message := classifyPullError(err)
		log.Warn("pull run rejected",
			zap.String("provider_id", providerID),
			zap.Int("status", status),
			zap.Error(err))
		resp := PullResponse{Status: "failed", Message: message}
		if result != nil {
			resp = toPullResponse(result)
			resp.Message = message
		}
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, toPullResponse(result))
}

// classifyPullError maps runner errors onto HTTP statuses
func classifyPullError(err error) (int, string) {
	switch {
	case errors.Is(err, connector.ErrNotConfigured):
		return http.StatusNotFound, "Unknown provider"
	case errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict, "Run already in progress"
	default:
		return http.StatusBadGateway, "Pull run failed"
	}
}

func toPullResponse(result *pipeline.RunResult) PullResponse {
	resp := PullResponse{
		Status:       string(result.Status),
		TotalCount:   result.TotalCount,
		SuccessCount: result.SuccessCount,
		FailedCount:  result.FailedCount,
		CompletedAt:  result.CompletedAt,
	}
	for _, failure := range result.FailedRecords {
		resp.FailedRecords = append(resp.FailedRecords, PullFailure{
			ExternalID: failure.ExternalID,
			Message:    failure.ErrorMessage,
		})
	}
	return resp
}
