package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/integrations"
)

// actorFromRequest reads the identity the gateway attached to the
// request. The gateway authenticates; this service only authorizes.
func actorFromRequest(c *gin.Context) (integrations.Actor, bool) {
	rawID := c.GetHeader("X-User-Id")
	id, err := uuid.Parse(rawID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid X-User-Id header"})
		return integrations.Actor{}, false
	}

	return integrations.Actor{
		ID:   id,
		Role: c.GetHeader("X-User-Role"),
		Name: c.GetHeader("X-User-Name"),
	}, true
}
