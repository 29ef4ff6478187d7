// Package api provides the HTTP API for the Sonic Net backend.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/namandi6/sonic-wifi.net/internal/auth"
	"github.com/namandi6/sonic-wifi.net/internal/order"
	"github.com/namandi6/sonic-wifi.net/internal/store"
	"github.com/namandi6/sonic-wifi.net/internal/sweeper"
)

// Handler contains all HTTP handlers for the API.
type Handler struct {
	store       *store.Store
	reconciler  *order.Reconciler
	sweeper     *sweeper.Sweeper
	authService *auth.Service
	logger      *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	st *store.Store,
	reconciler *order.Reconciler,
	sw *sweeper.Sweeper,
	authService *auth.Service,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handler{
		store:       st,
		reconciler:  reconciler,
		sweeper:     sw,
		authService: authService,
		logger:      logger,
	}
}

// HealthCheck returns the service health status.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type packageResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	DurationHours int    `json:"duration_hours"`
	SpeedMbps     int    `json:"speed_mbps"`
	MaxDevices    int    `json:"max_devices"`
	IsPopular     bool   `json:"is_popular"`
}

// ListPackages returns the active catalog ordered by price.
func (h *Handler) ListPackages(c *gin.Context) {
	packages, err := h.store.ListActivePackages()
	if err != nil {
		h.logger.Error("failed to list packages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load packages"})
		return
	}

	out := make([]packageResponse, 0, len(packages))
	for _, p := range packages {
		out = append(out, packageResponse{
			ID:            p.ID,
			Name:          p.Name,
			Price:         p.Price,
			DurationHours: p.DurationHours,
			SpeedMbps:     p.SpeedMbps,
			MaxDevices:    p.MaxDevices,
			IsPopular:     p.IsPopular,
		})
	}
	c.JSON(http.StatusOK, gin.H{"packages": out})
}

// CreateOrderRequest is the order creation payload.
type CreateOrderRequest struct {
	PackageID     string `json:"package_id" binding:"required"`
	Phone         string `json:"phone" binding:"required"`
	Email         string `json:"email"`
	PaymentMethod string `json:"payment_method" binding:"required"`
}

// CreateOrderResponse carries the checkout redirect target.
type CreateOrderResponse struct {
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"redirect_url"`
}

// CreateOrder creates a pending order and submits it to the gateway.
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.reconciler.CreateOrder(c.Request.Context(), order.CreateRequest{
		PackageID:     req.PackageID,
		Phone:         req.Phone,
		Email:         req.Email,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		switch {
		case errors.Is(err, order.ErrGatewayUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment temporarily unavailable"})
		case errors.Is(err, order.ErrPackageUnavailable):
			c.JSON(http.StatusBadRequest, gin.H{"error": "package unavailable"})
		default:
			h.logger.Error("order creation failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to start payment, please try again"})
		}
		return
	}

	c.JSON(http.StatusOK, CreateOrderResponse{
		OrderID:     result.Order.ID,
		RedirectURL: result.RedirectURL,
	})
}

// PollStatusRequest is the poll payload from the payment callback page.
type PollStatusRequest struct {
	OrderID string `json:"orderId" binding:"required"`
}

type voucherResponse struct {
	Code       string `json:"code"`
	Status     string `json:"status"`
	ValidHours int    `json:"valid_hours"`
	ExpiresAt  string `json:"expires_at"`
}

// PollStatus reconciles an order on behalf of a polling client and returns
// its current status, with the voucher once completed.
func (h *Handler) PollStatus(c *gin.Context) {
	var req PollStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.reconciler.Reconcile(c.Request.Context(), req.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		h.logger.Error("reconciliation failed", zap.String("order_id", req.OrderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check payment status"})
		return
	}

	resp := gin.H{"status": string(result.Status)}
	if result.Voucher != nil {
		resp["voucher"] = voucherResponse{
			Code:       result.Voucher.Code,
			Status:     string(result.Voucher.Status),
			ValidHours: result.Voucher.ValidHours,
			ExpiresAt:  result.Voucher.ExpiresAt.Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, resp)
}

// IPN handles the gateway's webhook. Parameter names arrived in two casings
// over the gateway's history, so both are accepted. The response is a plain
// success acknowledgement regardless of internal outcome; anything else
// triggers gateway-side retry storms.
func (h *Handler) IPN(c *gin.Context) {
	trackingID := firstQuery(c, "OrderTrackingId", "orderTrackingId")
	merchantRef := firstQuery(c, "OrderMerchantReference", "orderMerchantReference")

	if trackingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing OrderTrackingId"})
		return
	}

	h.reconciler.HandleWebhook(c.Request.Context(), trackingID, merchantRef)
	c.String(http.StatusOK, "OK")
}

func firstQuery(c *gin.Context, keys ...string) string {
	for _, key := range keys {
		if v := c.Query(key); v != "" {
			return v
		}
	}
	return ""
}

// LoginRequest is the admin login payload.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login verifies admin credentials and returns a session token.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// AdminStats returns sales statistics.
func (h *Handler) AdminStats(c *gin.Context) {
	stats, err := h.store.GetStats()
	if err != nil {
		h.logger.Error("failed to load stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_orders":     stats.TotalOrders,
		"completed_orders": stats.CompletedOrders,
		"revenue":          stats.Revenue,
		"active_vouchers":  stats.ActiveVouchers,
	})
}

// AdminOrders returns recent orders.
func (h *Handler) AdminOrders(c *gin.Context) {
	orders, err := h.store.ListRecentOrders(50)
	if err != nil {
		h.logger.Error("failed to list orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// AdminVouchers returns recent vouchers.
func (h *Handler) AdminVouchers(c *gin.Context) {
	vouchers, err := h.store.ListRecentVouchers(50)
	if err != nil {
		h.logger.Error("failed to list vouchers", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load vouchers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"vouchers": vouchers})
}

// PackageRequest is the admin package create/update payload.
type PackageRequest struct {
	Name          string `json:"name" binding:"required"`
	Price         int64  `json:"price"`
	DurationHours int    `json:"duration_hours" binding:"required,gt=0"`
	SpeedMbps     int    `json:"speed_mbps"`
	MaxDevices    int    `json:"max_devices"`
	IsPopular     bool   `json:"is_popular"`
	IsActive      bool   `json:"is_active"`
}

// CreatePackage adds a package to the catalog.
func (h *Handler) CreatePackage(c *gin.Context) {
	var req PackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Price < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must not be negative"})
		return
	}

	p := &store.Package{
		ID:            uuid.New().String(),
		Name:          req.Name,
		Price:         req.Price,
		DurationHours: req.DurationHours,
		SpeedMbps:     req.SpeedMbps,
		MaxDevices:    req.MaxDevices,
		IsPopular:     req.IsPopular,
		IsActive:      req.IsActive,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.store.CreatePackage(p); err != nil {
		h.logger.Error("failed to create package", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create package"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": p.ID})
}

// UpdatePackage edits a catalog package.
func (h *Handler) UpdatePackage(c *gin.Context) {
	var req PackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := &store.Package{
		ID:            c.Param("id"),
		Name:          req.Name,
		Price:         req.Price,
		DurationHours: req.DurationHours,
		SpeedMbps:     req.SpeedMbps,
		MaxDevices:    req.MaxDevices,
		IsPopular:     req.IsPopular,
		IsActive:      req.IsActive,
	}
	if err := h.store.UpdatePackage(p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "package not found"})
			return
		}
		h.logger.Error("failed to update package", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update package"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": p.ID})
}

// DeactivatePackage hides a package from the catalog.
func (h *Handler) DeactivatePackage(c *gin.Context) {
	if err := h.store.DeactivatePackage(c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "package not found"})
			return
		}
		h.logger.Error("failed to deactivate package", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate package"})
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkVoucherUsedRequest reports a device login against a voucher.
type MarkVoucherUsedRequest struct {
	DeviceIP string `json:"device_ip"`
}

// MarkVoucherUsed records the first login against a voucher code.
func (h *Handler) MarkVoucherUsed(c *gin.Context) {
	var req MarkVoucherUsedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.MarkVoucherUsed(c.Param("code"), req.DeviceIP); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active voucher with that code"})
			return
		}
		h.logger.Error("failed to mark voucher used", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark voucher used"})
		return
	}
	c.Status(http.StatusNoContent)
}

// TriggerSweep runs one expiry sweep on demand.
func (h *Handler) TriggerSweep(c *gin.Context) {
	summary, err := h.sweeper.Sweep(c.Request.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("manual sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cleaned":         summary.Expired,
		"mikrotikRemoved": summary.Revoked,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}
