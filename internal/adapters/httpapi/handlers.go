package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/soapboxhq/soapbox/internal/app"
	"github.com/soapboxhq/soapbox/internal/domain"
)

type handlers struct {
	coord  *app.Coordinator
	health HealthChecker
}

func (h *handlers) getHealth(c *gin.Context) {
	if err := h.health.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) listRooms(c *gin.Context) {
	rooms, err := h.coord.ListActiveRooms(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *handlers) getRoom(c *gin.Context) {
	state, err := h.coord.GetRoomState(c.Request.Context(), domain.RoomID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *handlers) getMessages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	page, err := h.coord.GetMessages(c.Request.Context(), domain.RoomID(c.Param("id")), c.Query("cursor"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// writeError maps coordinator error codes onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	opErr, ok := app.AsError(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch opErr.Code {
	case app.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case app.CodeUnauthorized:
		status = http.StatusForbidden
	case app.CodeNotFound:
		status = http.StatusNotFound
	case app.CodeValidation:
		status = http.StatusBadRequest
	case app.CodeConflict:
		status = http.StatusConflict
	case app.CodeRateLimited:
		status = http.StatusTooManyRequests
	}
	c.JSON(status, gin.H{"error": opErr.Message, "code": string(opErr.Code)})
}
