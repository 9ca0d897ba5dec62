// Package http exposes the ticket purchase flow over HTTP and provides a buyer-side
// client that pays 402 challenges automatically.
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	x402 "github.com/ticketchain/x402-tickets"
)

// DefaultPrefix is the route group of the ticket endpoints
const DefaultPrefix = "/api/tickets"

// BuyerHeader carries the buyer address when it is not in the request body
const BuyerHeader = "X-Buyer-Address"

// Handler serves the ticket endpoints
type Handler struct {
	orchestrator *x402.PurchaseOrchestrator
	oracle       x402.PriceOracle
	catalog      x402.EventCatalog
	logger       zerolog.Logger
}

// RouterOptions configures NewRouter
type RouterOptions struct {
	Prefix string
	Logger zerolog.Logger
}

// RouterOption configures the router
type RouterOption func(*RouterOptions)

// WithPrefix overrides DefaultPrefix
func WithPrefix(prefix string) RouterOption {
	return func(o *RouterOptions) {
		o.Prefix = prefix
	}
}

// WithLogger sets the request and handler logger
func WithLogger(logger zerolog.Logger) RouterOption {
	return func(o *RouterOptions) {
		o.Logger = logger
	}
}

// NewHandler creates the ticket endpoint handler
func NewHandler(orchestrator *x402.PurchaseOrchestrator, oracle x402.PriceOracle, catalog x402.EventCatalog, logger zerolog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		oracle:       oracle,
		catalog:      catalog,
		logger:       logger,
	}
}

// NewRouter builds the gin engine with request logging, recovery and the ticket routes
func NewRouter(orchestrator *x402.PurchaseOrchestrator, oracle x402.PriceOracle, catalog x402.EventCatalog, opts ...RouterOption) *gin.Engine {
	options := &RouterOptions{
		Prefix: DefaultPrefix,
		Logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(options)
	}

	h := NewHandler(orchestrator, oracle, catalog, options.Logger)

	router := gin.New()
	router.Use(RequestID(), RequestLogger(options.Logger), gin.Recovery())

	router.GET("/health", h.Health)

	tickets := router.Group(options.Prefix)
	tickets.GET("/price/:eventAddress", h.GetPrice)
	tickets.GET("/event/:eventAddress", h.GetEvent)
	tickets.POST("/purchase/:eventAddress", h.Purchase)
	tickets.POST("/purchase-free/:eventAddress", h.PurchaseFree)

	return router
}
