package httpmw

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// routePath prefers the registered route pattern over the raw URL so log
// lines and span names aggregate by endpoint, not by agent id.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// RequestLogger emits one line per request after the handler ran. Server
// errors log at error level; everything else stays at debug so steady-state
// polling does not flood the log.
func RequestLogger(log *logger.Logger, serverName string) gin.HandlerFunc {
	log = log.WithFields(zap.String("server", serverName))
	return func(c *gin.Context) {
		start := time.Now()
		path := routePath(c)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int("bytes", max(c.Writer.Size(), 0)),
		}
		if status >= 500 {
			log.Error("http", fields...)
			return
		}
		log.Debug("http", fields...)
	}
}
