package server

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/strazto/jellyfin/internal/logger"
	"github.com/strazto/jellyfin/internal/types"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "requestID"
)

// requestIDMiddleware assigns every request an ID, reusing a client supplied one
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// remoteAccessMiddleware rejects peers the network policy does not allow
func (s *Server) remoteAccessMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		peer, err := netip.ParseAddr(c.ClientIP())
		if err != nil || !s.network.IsRemoteAllowed(peer) {
			logger.WithField("client", c.ClientIP()).Warn("Remote access denied")
			respondError(c, types.ErrPermissionDenied, "remote access denied")
			c.Abort()
			return
		}
		c.Next()
	}
}

// loggerMiddleware logs requests
func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		logFields := map[string]interface{}{
			"method":    c.Request.Method,
			"path":      path,
			"status":    status,
			"latency":   time.Since(start).String(),
			"client":    c.ClientIP(),
			"requestId": requestID(c),
		}
		if query != "" {
			logFields["query"] = query
		}

		switch {
		case status >= 500:
			logger.WithFields(logFields).Error("Request failed")
		case status >= 400:
			logger.WithFields(logFields).Warn("Client error")
		default:
			logger.WithFields(logFields).Debug("Request handled")
		}
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func respondOK[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, types.OK(data, requestID(c)))
}

func respondError(c *gin.Context, code types.ErrorCode, message string) {
	c.JSON(code.HTTPStatusCode(), types.Fail(code, message, "", requestID(c)))
}

func respondErrorDetails(c *gin.Context, code types.ErrorCode, message string, err error) {
	c.JSON(code.HTTPStatusCode(), types.Fail(code, message, err.Error(), requestID(c)))
}
