package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"ecom-coordinator/internal/apperr"
	"ecom-coordinator/internal/models"
	"ecom-coordinator/internal/service"
	"ecom-coordinator/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	orderService     *service.OrderService
	inventoryService *service.InventoryService
}

// NewHandler creates a new HTTP handler
func NewHandler(orderService *service.OrderService, inventoryService *service.InventoryService) *Handler {
	return &Handler{
		orderService:     orderService,
		inventoryService: inventoryService,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/timeline", h.getTimeline)
		v1.PATCH("/orders/:id/status", h.updateStatus)

		v1.POST("/inventory", h.createStock)
		v1.GET("/inventory/:variantId/:sellerId", h.getStock)
		v1.POST("/inventory/reserve", h.reserveStock)
		v1.POST("/inventory/release", h.releaseStock)
		v1.POST("/inventory/confirm", h.confirmStock)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, items, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// listOrders looks orders up by user id or by order number.
func (h *Handler) listOrders(c *gin.Context) {
	if number := c.Query("number"); number != "" {
		order, err := h.orderService.GetOrderByNumber(c.Request.Context(), number)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": []interface{}{order}})
		return
	}

	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id or number required"})
		return
	}

	orders, err := h.orderService.GetOrdersByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getTimeline returns the append-only status history of an order.
func (h *Handler) getTimeline(c *gin.Context) {
	timeline, err := h.orderService.GetTimeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"timeline": timeline})
}

type updateStatusRequest struct {
	Status    string `json:"status" binding:"required"`
	ChangedBy string `json:"changed_by,omitempty"`
	Note      string `json:"note,omitempty"`
}

// updateStatus moves an order along its lifecycle.
func (h *Handler) updateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orderService.UpdateStatus(c.Request.Context(),
		c.Param("id"), models.Status(req.Status), req.ChangedBy, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

type createStockRequest struct {
	VariantID        string `json:"variant_id" binding:"required"`
	SellerID         string `json:"seller_id" binding:"required"`
	Quantity         int    `json:"quantity" binding:"min=0"`
	ReorderThreshold int    `json:"reorder_threshold" binding:"min=0"`
}

func (h *Handler) createStock(c *gin.Context) {
	var req createStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	rec, err := h.inventoryService.CreateStock(c.Request.Context(),
		req.VariantID, req.SellerID, req.Quantity, req.ReorderThreshold)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) getStock(c *gin.Context) {
	rec, err := h.inventoryService.GetStock(c.Request.Context(),
		c.Param("variantId"), c.Param("sellerId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stock":     rec,
		"available": rec.Available(),
	})
}

type stockOpRequest struct {
	VariantID string `json:"variant_id" binding:"required"`
	SellerID  string `json:"seller_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

func (h *Handler) reserveStock(c *gin.Context) {
	var req stockOpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	rec, err := h.inventoryService.Reserve(c.Request.Context(),
		req.VariantID, req.SellerID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stock":     rec,
		"available": rec.Available(),
	})
}

func (h *Handler) releaseStock(c *gin.Context) {
	var req stockOpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.inventoryService.Release(c.Request.Context(),
		req.VariantID, req.SellerID, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

func (h *Handler) confirmStock(c *gin.Context) {
	var req stockOpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.inventoryService.Confirm(c.Request.Context(),
		req.VariantID, req.SellerID, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

// respondError maps the error taxonomy to HTTP statuses. Busy is the only
// one the client should retry as-is.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "Resource busy, please retry", "retryable": true})
	case errors.Is(err, apperr.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": "Insufficient stock", "details": err.Error()})
	case errors.Is(err, apperr.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Concurrent update conflict", "details": err.Error()})
	case errors.Is(err, apperr.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "Duplicate request", "retryable": true, "details": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found", "details": err.Error()})
	case errors.Is(err, apperr.ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid status transition", "details": err.Error()})
	case errors.Is(err, apperr.ErrAmountMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Order amounts do not reconcile", "details": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error", "details": err.Error()})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
