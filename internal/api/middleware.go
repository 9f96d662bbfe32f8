package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/operator"
)

// OperatorHeader carries the acting operator's id. Browsers cannot set
// headers on a WebSocket upgrade, so the operator_id query parameter is
// accepted as well.
const OperatorHeader = "X-Operator-ID"

const operatorKey = "operator"

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "api: request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// requireOperator resolves the acting operator or aborts with 401.
func (s *Server) requireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(OperatorHeader)
		if raw == "" {
			raw = c.Query("operator_id")
		}
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator id required"})
			return
		}
		admin, err := operator.Resolve(s.db.WithContext(c.Request.Context()), uint(id))
		if errors.Is(err, models.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown or inactive operator"})
			return
		}
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Set(operatorKey, admin)
		c.Next()
	}
}

func requireSuperadmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if admin := currentOperator(c); admin == nil || !admin.IsSuperadmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "superadmin privileges required"})
			return
		}
		c.Next()
	}
}

func currentOperator(c *gin.Context) *models.Admin {
	v, ok := c.Get(operatorKey)
	if !ok {
		return nil
	}
	admin, _ := v.(*models.Admin)
	return admin
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var ve *models.ValidationError
	switch {
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ve):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body. Internal errors are logged and
// replaced with a generic message.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		msg = ve.Reason
	case status == http.StatusInternalServerError:
		s.logger.Error("api: internal error", "path", c.Request.URL.Path, "error", err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// paramID parses a positive numeric path parameter, writing 400 when it is
// malformed.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
