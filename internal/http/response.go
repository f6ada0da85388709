package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"h2all/internal/service"
)

type SuccessResp struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	TraceID string      `json:"trace_id"`
}

type ErrorResp struct {
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
	TraceID string         `json:"trace_id"`
}

const TraceHeader = "X-Trace-ID"

// TraceID returns the request trace id, assigning one on first use.
func TraceID(c *gin.Context) string {
	if id := c.Writer.Header().Get(TraceHeader); id != "" {
		return id
	}
	id := c.GetHeader(TraceHeader)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	c.Writer.Header().Set(TraceHeader, id)
	return id
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResp{Success: true, Data: data, TraceID: TraceID(c)})
}

func JSON(c *gin.Context, code int, data interface{}) {
	c.JSON(code, SuccessResp{Success: true, Data: data, TraceID: TraceID(c)})
}

// Respond writes a success envelope whose payload fields sit at the top
// level, next to success and trace_id.
func Respond(c *gin.Context, code int, fields gin.H) {
	payload := gin.H{"success": true, "trace_id": TraceID(c)}
	for k, v := range fields {
		payload[k] = v
	}
	c.JSON(code, payload)
}

func Fail(c *gin.Context, httpCode int, code, msg string) {
	c.JSON(httpCode, ErrorResp{Success: false, Error: msg, Code: code, TraceID: TraceID(c)})
}

func FailWithDetails(c *gin.Context, httpCode int, code, msg string, details map[string]any) {
	c.JSON(httpCode, ErrorResp{Success: false, Error: msg, Code: code, Details: details, TraceID: TraceID(c)})
}

// StatusFor maps a service error kind onto an HTTP status.
func StatusFor(kind service.ErrorKind) int {
	switch kind {
	case service.KindValidation, service.KindState, service.KindLimit:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FailWithError renders any error returned by the service layer. Internal
// errors are logged with the trace id and reported without their cause.
func FailWithError(c *gin.Context, err error) {
	se := service.AsError(err)
	status := StatusFor(se.Kind)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("trace_id", TraceID(c)),
			zap.String("path", c.Request.URL.Path),
			zap.String("code", se.Code),
			zap.Error(errors.Unwrap(se)),
		)
	}
	FailWithDetails(c, status, se.Code, se.Message, se.Details)
}
