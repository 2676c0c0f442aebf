// Package httpapi serves the read-only HTTP surface next to the WebSocket
// gateway: room discovery, message history and health.
package httpapi

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/soapboxhq/soapbox/internal/adapters/gateway"
	"github.com/soapboxhq/soapbox/internal/app"
	"github.com/soapboxhq/soapbox/internal/identity"
)

// Deps collects everything the router needs.
type Deps struct {
	Mode     string
	Coord    *app.Coordinator
	Gateway  *gateway.Controller
	Verifier identity.Verifier
	Health   HealthChecker
}

// HealthChecker reports backing-service reachability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

func SetupRouter(ctx context.Context, deps Deps) *gin.Engine {
	if deps.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if deps.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &handlers{coord: deps.Coord, health: deps.Health}

	r.GET("/api/health", h.getHealth)

	api := r.Group("/api")
	api.Use(ipRateLimit())
	api.Use(authRequired(deps.Verifier))
	api.GET("/rooms", h.listRooms)
	api.GET("/rooms/:id", h.getRoom)
	api.GET("/rooms/:id/messages", h.getMessages)

	r.GET("/api/ws", func(c *gin.Context) {
		deps.Gateway.Handle(ctx, c)
	})

	log.Info().Str("module", "httpapi").Str("mode", deps.Mode).Msg("router setup")
	return r
}

// authRequired resolves the bearer credential and stores the user id on the
// request context.
func authRequired(verifier identity.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		userID, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": "missing or invalid credential"})
			return
		}
		c.Set("user_id", string(userID))
		c.Next()
	}
}
