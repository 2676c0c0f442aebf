package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	ipLimit  = 100
	ipWindow = time.Minute
)

// ipRateLimit is a fixed-window per-IP limiter for the read API. Windows
// reset wholesale, which is coarse but cheap; the WebSocket side has its own
// per-connection limiter.
func ipRateLimit() gin.HandlerFunc {
	var (
		mu          sync.Mutex
		counts      = make(map[string]int)
		windowStart = time.Now()
	)

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		now := time.Now()
		if now.Sub(windowStart) >= ipWindow {
			counts = make(map[string]int)
			windowStart = now
		}
		counts[ip]++
		over := counts[ip] > ipLimit
		mu.Unlock()

		if over {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
