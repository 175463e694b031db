package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/metrics"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/workflow"
)

// BOPLineHandler exposes the trip-cost budget workflow over HTTP.
type BOPLineHandler struct {
	lines   *workflow.BOPWorkflow
	metrics *metrics.Metrics
}

// NewBOPLineHandler creates a new BOP line handler.
func NewBOPLineHandler(lines *workflow.BOPWorkflow, metrics *metrics.Metrics) *BOPLineHandler {
	return &BOPLineHandler{lines: lines, metrics: metrics}
}

type createLinePayload struct {
	Percentage       decimal.Decimal `json:"percentage" binding:"required"`
	IsAdditionalCost bool            `json:"is_additional_cost"`
}

type updateLinePayload struct {
	Percentage decimal.Decimal `json:"percentage" binding:"required"`
}

type approveLinePayload struct {
	Target models.BOPState `json:"target" binding:"required"`
}

// HandleCreate allocates a budget line against an order.
func (h *BOPLineHandler) HandleCreate(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery order id"})
		return
	}

	var payload createLinePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	line, err := h.lines.CreateLine(c.Request.Context(), orderID, workflow.CreateLineRequest{
		Percentage:       payload.Percentage,
		IsAdditionalCost: payload.IsAdditionalCost,
	}, actor)
	if err != nil {
		respondError(c, err)
		return
	}

	h.metrics.IncrementCounter("bop_lines_created")
	c.JSON(http.StatusCreated, line)
}

// HandleList returns the order's budget lines.
func (h *BOPLineHandler) HandleList(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery order id"})
		return
	}

	lines, err := h.lines.ListByOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

// HandleUpdate re-allocates a draft line.
func (h *BOPLineHandler) HandleUpdate(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	lineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bop line id"})
		return
	}

	var payload updateLinePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	line, err := h.lines.UpdatePercentage(c.Request.Context(), lineID, payload.Percentage, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

// HandleApprove advances a line one settlement stage.
func (h *BOPLineHandler) HandleApprove(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	lineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bop line id"})
		return
	}

	var payload approveLinePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.lines.Approve(c.Request.Context(), lineID, payload.Target, actor); err != nil {
		respondError(c, err)
		return
	}

	h.metrics.IncrementCounter("bop_lines_approved")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReject cancels a line.
func (h *BOPLineHandler) HandleReject(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	lineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bop line id"})
		return
	}

	var payload rejectPayload
	_ = c.ShouldBindJSON(&payload)

	if err := h.lines.Reject(c.Request.Context(), lineID, payload.Reason, actor); err != nil {
		respondError(c, err)
		return
	}

	h.metrics.IncrementCounter("bop_lines_rejected")
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// HandleDelete removes a draft or cancelled line.
func (h *BOPLineHandler) HandleDelete(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	lineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bop line id"})
		return
	}

	if err := h.lines.DeleteLine(c.Request.Context(), lineID, actor); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// HandleTrail returns the line's settlement audit trail.
func (h *BOPLineHandler) HandleTrail(c *gin.Context) {
	lineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bop line id"})
		return
	}

	trail, err := h.lines.Trail(c.Request.Context(), lineID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": trail})
}

// RegisterRoutes registers the handler's routes
func (h *BOPLineHandler) RegisterRoutes(router *gin.Engine) {
	orders := router.Group("/api/v1/delivery-orders")
	orders.POST("/:id/bop-lines", h.HandleCreate)
	orders.GET("/:id/bop-lines", h.HandleList)

	lines := router.Group("/api/v1/bop-lines")
	lines.PATCH("/:id", h.HandleUpdate)
	lines.POST("/:id/approve", h.HandleApprove)
	lines.POST("/:id/reject", h.HandleReject)
	lines.DELETE("/:id", h.HandleDelete)
	lines.GET("/:id/trail", h.HandleTrail)
}
