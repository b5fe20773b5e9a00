package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mirecekd/trnda/internal/service"
)

const (
	sessionIDKey = "session_id"
	pipelineKey  = "pipeline"
)

// RequireSession resolves the bearer token to a live session and stores its
// pipeline in the gin context.
func (h *Handler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		id, err := h.tokens.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		p, found := h.sessions.Get(id)
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		c.Set(sessionIDKey, id)
		c.Set(pipelineKey, p)
		c.Next()
	}
}

func pipelineFrom(c *gin.Context) *service.Pipeline {
	return c.MustGet(pipelineKey).(*service.Pipeline)
}

// RequestLogger logs method, path, status and latency of every request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
