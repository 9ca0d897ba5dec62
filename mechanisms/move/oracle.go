package move

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	x402 "github.com/ticketchain/x402-tickets"
)

const (
	// TicketModule is the contract module holding events and tickets
	TicketModule = "ticket"

	FunctionGetTicketPrice = "get_ticket_price"
	FunctionGetEventInfo   = "get_event_info"

	// PriceDecimals is the scale of prices stored by the ticket contract (micro-USD)
	PriceDecimals = 6
)

// DefaultFallbackPrice is quoted when the contract price cannot be read
var DefaultFallbackPrice = decimal.NewFromFloat(5.00)

// ErrEventNotFound is returned when event info cannot be read from the contract
var ErrEventNotFound = errors.New("event not found")

// PriceOracle reads ticket prices from the ticket contract. It never fails: any read or
// decode error is logged and the fallback price is returned for that request only.
type PriceOracle struct {
	client   ViewClient
	module   string
	fallback decimal.Decimal
	logger   zerolog.Logger
}

// OracleOption configures a PriceOracle
type OracleOption func(*PriceOracle)

// WithFallbackPrice overrides DefaultFallbackPrice
func WithFallbackPrice(price decimal.Decimal) OracleOption {
	return func(o *PriceOracle) {
		o.fallback = price
	}
}

// WithOracleLogger sets the oracle logger
func WithOracleLogger(logger zerolog.Logger) OracleOption {
	return func(o *PriceOracle) {
		o.logger = logger
	}
}

// NewPriceOracle creates an oracle reading from the contract published at moduleAddress
func NewPriceOracle(client ViewClient, moduleAddress string, opts ...OracleOption) *PriceOracle {
	o := &PriceOracle{
		client:   client,
		module:   moduleAddress,
		fallback: DefaultFallbackPrice,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GetPrice implements x402.PriceOracle
func (o *PriceOracle) GetPrice(ctx context.Context, eventAddress string) decimal.Decimal {
	values, err := o.client.View(ctx, ViewRequest{
		Function:      FunctionID(o.module, TicketModule, FunctionGetTicketPrice),
		TypeArguments: []string{},
		Arguments:     []interface{}{eventAddress},
	})
	if err == nil && len(values) == 0 {
		err = errors.New("empty view result")
	}
	var raw *big.Int
	if err == nil {
		raw, err = decodeU64(values[0])
	}
	if err != nil {
		o.logger.Warn().
			Err(err).
			Str("event", eventAddress).
			Str("fallback", o.fallback.String()).
			Msg("price lookup failed, using fallback price")
		return o.fallback
	}
	return decimal.NewFromBigInt(raw, -PriceDecimals)
}

// Catalog reads event metadata from the ticket contract
type Catalog struct {
	client ViewClient
	module string
}

// NewCatalog creates a catalog reading from the contract published at moduleAddress
func NewCatalog(client ViewClient, moduleAddress string) *Catalog {
	return &Catalog{client: client, module: moduleAddress}
}

// GetEventInfo implements x402.EventCatalog. Any read or decode failure is ErrEventNotFound.
func (c *Catalog) GetEventInfo(ctx context.Context, eventAddress string) (*x402.EventInfo, error) {
	values, err := c.client.View(ctx, ViewRequest{
		Function:      FunctionID(c.module, TicketModule, FunctionGetEventInfo),
		TypeArguments: []string{},
		Arguments:     []interface{}{eventAddress},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEventNotFound, err)
	}

	info, err := decodeEventInfo(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEventNotFound, err)
	}
	return info, nil
}

// decodeEventInfo decodes the get_event_info tuple:
// (name, admin registry, total, sold, price, active, cancelled, transferable, resalable,
// permanent, refundable, payment processor)
func decodeEventInfo(values []json.RawMessage) (*x402.EventInfo, error) {
	if len(values) < 12 {
		return nil, fmt.Errorf("expected 12 values from %s, got %d", FunctionGetEventInfo, len(values))
	}

	d := decoder{values: values}
	info := &x402.EventInfo{
		Name:             d.text(0),
		AdminRegistry:    d.text(1),
		TotalTickets:     d.u64(2).Uint64(),
		TicketsSold:      d.u64(3).Uint64(),
		TicketPrice:      decimal.NewFromBigInt(d.u64(4), -PriceDecimals),
		IsActive:         d.flag(5),
		IsCancelled:      d.flag(6),
		Transferable:     d.flag(7),
		Resalable:        d.flag(8),
		Permanent:        d.flag(9),
		Refundable:       d.flag(10),
		PaymentProcessor: d.text(11),
	}
	if d.err != nil {
		return nil, d.err
	}
	return info, nil
}

// decoder collects the first error while reading positional view results
type decoder struct {
	values []json.RawMessage
	err    error
}

func (d *decoder) text(i int) string {
	var s string
	if err := json.Unmarshal(d.values[i], &s); err != nil && d.err == nil {
		d.err = fmt.Errorf("value %d: expected string: %w", i, err)
	}
	return s
}

func (d *decoder) flag(i int) bool {
	var b bool
	if err := json.Unmarshal(d.values[i], &b); err != nil && d.err == nil {
		d.err = fmt.Errorf("value %d: expected bool: %w", i, err)
	}
	return b
}

func (d *decoder) u64(i int) *big.Int {
	v, err := decodeU64(d.values[i])
	if err != nil {
		if d.err == nil {
			d.err = fmt.Errorf("value %d: %w", i, err)
		}
		return new(big.Int)
	}
	return v
}

// decodeU64 accepts a u64 encoded as a JSON string (the REST API default) or a JSON number
func decodeU64(raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("expected u64, got %s", string(raw))
		}
		s = n.String()
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("expected u64, got %q", s)
	}
	return new(big.Int).SetUint64(v), nil
}
