package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/integrations"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/metrics"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/workflow"
)

// DeliveryOrderHandler exposes the delivery order workflow over HTTP.
type DeliveryOrderHandler struct {
	orders  *workflow.DOWorkflow
	metrics *metrics.Metrics
}

// NewDeliveryOrderHandler creates a new delivery order handler.
func NewDeliveryOrderHandler(orders *workflow.DOWorkflow, metrics *metrics.Metrics) *DeliveryOrderHandler {
	return &DeliveryOrderHandler{orders: orders, metrics: metrics}
}

type saleLinePayload struct {
	SaleOrderRef string          `json:"sale_order_ref" binding:"required"`
	ProductRef   string          `json:"product_ref" binding:"required"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

type createOrderPayload struct {
	Name              string            `json:"name" binding:"required"`
	CompanyID         uuid.UUID         `json:"company_id" binding:"required"`
	VehicleID         *uuid.UUID        `json:"vehicle_id"`
	DriverID          *uuid.UUID        `json:"driver_id"`
	Nominal           decimal.Decimal   `json:"nominal"`
	Quota             models.BopQuota   `json:"bop_state"`
	LoadingLocation   string            `json:"loading_location"`
	UnloadingLocation string            `json:"unloading_location"`
	SaleLines         []saleLinePayload `json:"sale_lines" binding:"required,min=1"`
}

type rejectPayload struct {
	Reason string `json:"reason"`
}

// HandleCreate opens a delivery order in draft.
func (h *DeliveryOrderHandler) HandleCreate(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}

	var payload createOrderPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := workflow.CreateOrderRequest{
		Name:              payload.Name,
		CompanyID:         payload.CompanyID,
		VehicleID:         payload.VehicleID,
		DriverID:          payload.DriverID,
		Nominal:           payload.Nominal,
		Quota:             payload.Quota,
		LoadingLocation:   payload.LoadingLocation,
		UnloadingLocation: payload.UnloadingLocation,
	}
	for _, line := range payload.SaleLines {
		req.SaleLines = append(req.SaleLines, workflow.SaleLineInput{
			SaleOrderRef: line.SaleOrderRef,
			ProductRef:   line.ProductRef,
			Subtotal:     line.Subtotal,
		})
	}

	order, err := h.orders.CreateFromSaleLines(c.Request.Context(), req, actor)
	if err != nil {
		respondError(c, err)
		return
	}

	h.metrics.IncrementCounter("delivery_orders_created")
	c.JSON(http.StatusCreated, order)
}

// HandleGet returns one delivery order.
func (h *DeliveryOrderHandler) HandleGet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery order id"})
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// HandleTrail returns the order's approval audit trail.
func (h *DeliveryOrderHandler) HandleTrail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery order id"})
		return
	}

	trail, err := h.orders.Trail(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": trail})
}

// HandleRequestApproval moves a draft order into the approval chain.
func (h *DeliveryOrderHandler) HandleRequestApproval(c *gin.Context) {
	h.transition(c, "delivery_orders_requested", h.orders.RequestApproval)
}

// HandleApproveOperationSupervisor signs off the dispatch plan.
func (h *DeliveryOrderHandler) HandleApproveOperationSupervisor(c *gin.Context) {
	h.transition(c, "delivery_orders_approved", h.orders.ApproveOperationSupervisor)
}

// HandleApproveCashier releases the trip budget.
func (h *DeliveryOrderHandler) HandleApproveCashier(c *gin.Context) {
	h.transition(c, "delivery_orders_approved", h.orders.ApproveCashier)
}

// HandleApproveAdministrationHead verifies the released budget.
func (h *DeliveryOrderHandler) HandleApproveAdministrationHead(c *gin.Context) {
	h.transition(c, "delivery_orders_approved", h.orders.ApproveAdministrationHead)
}

// HandleApproveBranchHead gives the final sign-off.
func (h *DeliveryOrderHandler) HandleApproveBranchHead(c *gin.Context) {
	h.transition(c, "delivery_orders_approved", h.orders.ApproveBranchHead)
}

// HandleMarkDone closes the order after trip completion.
func (h *DeliveryOrderHandler) HandleMarkDone(c *gin.Context) {
	h.transition(c, "delivery_orders_done", h.orders.MarkDone)
}

// HandleReject cancels the order at its current stage.
func (h *DeliveryOrderHandler) HandleReject(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery order id"})
		return
	}

	// The reason is optional at the transport level; tiers that mandate a
	// comment reject downstream.
	var payload rejectPayload
	_ = c.ShouldBindJSON(&payload)

	if err := h.orders.Reject(c.Request.Context(), id, payload.Reason, actor); err != nil {
		respondError(c, err)
		return
	}

	h.metrics.IncrementCounter("delivery_orders_rejected")
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// transition runs one actor-driven order transition and records timing.
func (h *DeliveryOrderHandler) transition(c *gin.Context, counter string, fn func(ctx context.Context, id uuid.UUID, actor integrations.Actor) error) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery order id"})
		return
	}

	start := time.Now()
	if err := fn(c.Request.Context(), id, actor); err != nil {
		respondError(c, err)
		return
	}
	h.metrics.RecordTimer("delivery_order_transition_ms", time.Since(start).Milliseconds())
	h.metrics.IncrementCounter(counter)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterRoutes registers the handler's routes
func (h *DeliveryOrderHandler) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/v1/delivery-orders")
	group.POST("", h.HandleCreate)
	group.GET("/:id", h.HandleGet)
	group.GET("/:id/trail", h.HandleTrail)
	group.POST("/:id/request-approval", h.HandleRequestApproval)
	group.POST("/:id/approve/operation-supervisor", h.HandleApproveOperationSupervisor)
	group.POST("/:id/approve/cashier", h.HandleApproveCashier)
	group.POST("/:id/approve/administration-head", h.HandleApproveAdministrationHead)
	group.POST("/:id/approve/branch-head", h.HandleApproveBranchHead)
	group.POST("/:id/reject", h.HandleReject)
	group.POST("/:id/done", h.HandleMarkDone)
}
