package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// UnmatchedRoute labels requests that hit no registered route so scanners
// cannot grow the path label set.
const UnmatchedRoute = "unmatched"

// RouteLabel is the registered route pattern of the request.
func RouteLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return UnmatchedRoute
}

// AccessLabel splits requests into reads and control actions. Control routes
// are the ones a bearer token guards.
func AccessLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "read"
	default:
		return "control"
	}
}

func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case AccessLabel(c.Request.Method) == "read":
			event = logger.Debug()
		}

		event.
			Str("method", c.Request.Method).
			Str("route", RouteLabel(c)).
			Str("path", c.Request.URL.Path).
			Str("access", AccessLabel(c.Request.Method)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("admin.http request")
	}
}

func RequestMetricsMiddleware(component string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(component, AccessLabel(c.Request.Method), c.Request.Method, RouteLabel(c), c.Writer.Status(), time.Since(start))
	}
}
