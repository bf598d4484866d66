package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	batchdomain "github.com/lotefact/lotefact/internal/batch/domain"
	workerdomain "github.com/lotefact/lotefact/internal/worker/domain"
)

func (s *Server) ListBatches(c *gin.Context) {
	var status *batchdomain.Status
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		st := batchdomain.Status(raw)
		status = &st
	}

	limit, err := parseLimit(c.Query("limit"), 50)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	batches, err := s.batchSvc.List(c.Request.Context(), status, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": batches})
}

func (s *Server) GetBatchByID(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	batch, err := s.batchSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": batch})
}

// AuthorizeBatch enqueues an authorization run and returns the task id so
// the caller can poll progress. The run itself happens on a worker.
func (s *Server) AuthorizeBatch(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	batch, err := s.batchSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if batch.Status == batchdomain.StatusCompleted {
		AbortWithError(c, newValidationError("status", "batch_completed", "batch already completed"))
		return
	}

	task, err := s.queue.Enqueue(c.Request.Context(), workerdomain.TaskBatchAuthorize, workerdomain.BatchAuthorizePayload{
		BatchID: batch.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{
		"task_id":  task.ID.String(),
		"batch_id": batch.ID.String(),
		"state":    task.Status,
	}})
}
