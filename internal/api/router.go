package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Router wraps the Gin engine with Sonic Net handlers.
type Router struct {
	engine  *gin.Engine
	handler *Handler
}

// NewRouter creates a new API router.
func NewRouter(handler *Handler) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// Middleware
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	r := &Router{
		engine:  engine,
		handler: handler,
	}

	r.setupRoutes()

	return r
}

// setupRoutes configures all API routes.
func (r *Router) setupRoutes() {
	// Health check
	r.engine.GET("/health", r.handler.HealthCheck)

	// Gateway webhook
	r.engine.GET("/payments/ipn", r.handler.IPN)

	// API v1 routes
	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/packages", r.handler.ListPackages)

		orders := v1.Group("/orders")
		{
			orders.POST("", r.handler.CreateOrder)
			orders.POST("/status", r.handler.PollStatus)
		}

		admin := v1.Group("/admin")
		{
			admin.POST("/login", r.handler.Login)

			protected := admin.Group("")
			protected.Use(r.handler.AuthMiddleware())
			{
				protected.GET("/stats", r.handler.AdminStats)
				protected.GET("/orders", r.handler.AdminOrders)
				protected.GET("/vouchers", r.handler.AdminVouchers)
				protected.POST("/vouchers/:code/use", r.handler.MarkVoucherUsed)
				protected.POST("/packages", r.handler.CreatePackage)
				protected.PUT("/packages/:id", r.handler.UpdatePackage)
				protected.DELETE("/packages/:id", r.handler.DeactivatePackage)
				protected.POST("/sweep", r.handler.TriggerSweep)
			}
		}
	}
}

// Engine returns the underlying Gin engine.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}
