package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	x402 "github.com/ticketchain/x402-tickets"
)

// PriceResponse is the body of GET /price
type PriceResponse struct {
	ResourceID string      `json:"resourceId"`
	Price      json.Number `json:"price"`
	Currency   string      `json:"currency"`
	Name       string      `json:"name"`
	Remaining  uint64      `json:"remaining"`
	IsActive   bool        `json:"isActive"`
}

// ErrorResponse is the body of every non-402 failure
type ErrorResponse struct {
	Success      *bool  `json:"success,omitempty"`
	Error        string `json:"error"`
	Message      string `json:"message,omitempty"`
	Code         string `json:"code,omitempty"`
	SettlementTx string `json:"settlementTx,omitempty"`
}

type purchaseBody struct {
	BuyerAddress string `json:"buyerAddress"`
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetPrice quotes an event. The price read never fails; an unknown event is a 404.
func (h *Handler) GetPrice(c *gin.Context) {
	eventAddress := c.Param("eventAddress")

	var (
		price decimal.Decimal
		info  *x402.EventInfo
	)
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		price = h.oracle.GetPrice(ctx, eventAddress)
		return nil
	})
	g.Go(func() error {
		var err error
		info, err = h.catalog.GetEventInfo(ctx, eventAddress)
		return err
	})
	if err := g.Wait(); err != nil {
		h.eventNotFound(c, eventAddress, err)
		return
	}

	c.JSON(http.StatusOK, PriceResponse{
		ResourceID: eventAddress,
		Price:      json.Number(price.String()),
		Currency:   "USD",
		Name:       info.Name,
		Remaining:  info.Remaining(),
		IsActive:   info.IsActive,
	})
}

// GetEvent returns the full event record
func (h *Handler) GetEvent(c *gin.Context) {
	eventAddress := c.Param("eventAddress")

	info, err := h.catalog.GetEventInfo(c.Request.Context(), eventAddress)
	if err != nil {
		h.eventNotFound(c, eventAddress, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) eventNotFound(c *gin.Context, eventAddress string, cause error) {
	h.logger.Info().Err(cause).Str("event", eventAddress).Msg("event lookup failed")
	perr := x402.NewPaymentError(x402.ErrCodeEventNotFound, "Event not found", nil)
	c.JSON(perr.StatusCode(), ErrorResponse{Error: perr.Message, Message: cause.Error(), Code: perr.Code})
}

// Purchase runs the paid purchase flow
func (h *Handler) Purchase(c *gin.Context) {
	req, ok := h.purchaseRequest(c)
	if !ok {
		return
	}
	req.PaymentHeader = c.GetHeader(x402.PaymentHeader)

	resp, err := h.orchestrator.Purchase(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PurchaseFree mints a ticket for a zero-price event
func (h *Handler) PurchaseFree(c *gin.Context) {
	req, ok := h.purchaseRequest(c)
	if !ok {
		return
	}

	resp, err := h.orchestrator.PurchaseFree(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// purchaseRequest reads the buyer from the JSON body, falling back to the X-Buyer-Address header.
// An empty body is allowed; a body that is not JSON is a 400.
func (h *Handler) purchaseRequest(c *gin.Context) (x402.PurchaseRequest, bool) {
	var body purchaseBody
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
			return x402.PurchaseRequest{}, false
		}
	}

	buyer := strings.TrimSpace(body.BuyerAddress)
	if buyer == "" {
		buyer = strings.TrimSpace(c.GetHeader(BuyerHeader))
	}

	return x402.PurchaseRequest{
		EventAddress: c.Param("eventAddress"),
		BuyerAddress: buyer,
	}, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var paymentErr *x402.PaymentError
	if !errors.As(err, &paymentErr) {
		h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("unhandled purchase error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Message: err.Error()})
		return
	}

	status := paymentErr.StatusCode()
	switch {
	case paymentErr.Challenge != nil:
		c.JSON(status, paymentErr.Challenge)
	case paymentErr.Code == x402.ErrCodePaymentRequired:
		price, _ := paymentErr.Details["price"].(decimal.Decimal)
		c.JSON(status, x402.FreeUnavailable{Error: paymentErr.Message, Price: price})
	case status == http.StatusBadRequest:
		c.JSON(status, ErrorResponse{Error: paymentErr.Message, Code: paymentErr.Code})
	default:
		failed := false
		body := ErrorResponse{
			Success:      &failed,
			Error:        paymentErr.Message,
			Code:         paymentErr.Code,
			SettlementTx: paymentErr.SettlementTx,
		}
		if paymentErr.Err != nil {
			body.Message = paymentErr.Err.Error()
		}
		c.JSON(status, body)
	}
}
