package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/infrastructure/queue"
)

// TaskStatusReader reads recorded task state.
type TaskStatusReader interface {
	Status(ctx context.Context, id string) queue.TaskStatus
}

// TaskHandler exposes background task status.
type TaskHandler struct {
	*BaseHandler
	tasks TaskStatusReader
}

func NewTaskHandler(base *BaseHandler, tasks TaskStatusReader) *TaskHandler {
	return &TaskHandler{BaseHandler: base, tasks: tasks}
}

// Get returns the status of one task. An unreachable queue answers 503 with
// the unavailable status in the body.
// GET /api/v1/tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	st := h.tasks.Status(c.Request.Context(), c.Param("id"))
	if st.Status == queue.StatusUnavailable {
		c.JSON(http.StatusServiceUnavailable, st)
		return
	}
	h.OK(c, st)
}
