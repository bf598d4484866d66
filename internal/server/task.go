package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	batchdomain "github.com/lotefact/lotefact/internal/batch/domain"
)

// GetTaskByID is the polling endpoint for enqueued work. Progress carries
// the live invoice counter while a batch run is in flight.
func (s *Server) GetTaskByID(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	task, err := s.queue.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	progress := batchdomain.Progress{Current: task.ProgressCurrent, Total: task.ProgressTotal}

	resp := gin.H{
		"id":    task.ID.String(),
		"kind":  task.Kind,
		"state": task.Status,
		"progress": gin.H{
			"current": progress.Current,
			"total":   progress.Total,
			"percent": progress.Percent(),
		},
	}
	if len(task.Result) > 0 {
		resp["result"] = json.RawMessage(task.Result)
	}
	if task.Error != "" {
		resp["error"] = task.Error
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
