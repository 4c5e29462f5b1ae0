package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ovotrack/server/internal/config"
	"ovotrack/server/internal/services"
)

var statusByCode = map[services.ErrorCode]int{
	services.CodeNotFound:     http.StatusNotFound,
	services.CodeInvalidState: http.StatusConflict,
	services.CodeValidation:   http.StatusUnprocessableEntity,
	services.CodeUnauthorized: http.StatusForbidden,
}

// respondError writes a domain error with its status, anything else as 500
func respondError(c *gin.Context, log logrus.FieldLogger, err error) {
	if e, ok := services.AsError(err); ok {
		status, known := statusByCode[e.Code]
		if !known {
			status = http.StatusBadRequest
		}
		body := gin.H{"error": e.Message, "code": e.Code}
		if len(e.Fields) > 0 {
			body["fields"] = e.Fields
		}
		c.AbortWithStatusJSON(status, body)
		return
	}

	config.LogError(log, "api", c.HandlerName(), "api.internal_error", logrus.Fields{
		"method": c.Request.Method,
		"path":   c.FullPath(),
	}, err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// bindJSON decodes the request body; a malformed body is answered with 400
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// bindOptionalJSON is bindJSON that accepts an empty body
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}
