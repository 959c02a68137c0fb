package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docchat/internal/core/apperror"
	appctx "docchat/internal/core/context"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// Error registers err on the gin context and aborts. The JSON body is
// written by middleware.ErrorHandler.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ParseIntQuery parses an integer query parameter with a default.
func (h *BaseHandler) ParseIntQuery(c *gin.Context, key string, defaultVal int) int {
	val := c.Query(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

// User returns the authenticated caller or aborts with 401.
func (h *BaseHandler) User(c *gin.Context) (*appctx.UserContext, bool) {
	user := appctx.GetUser(c.Request.Context())
	if user == nil {
		h.Error(c, apperror.NewUnauthorized("authentication required"))
		return nil, false
	}
	return user, true
}

// OK sends 200 with data.
func (h *BaseHandler) OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}
