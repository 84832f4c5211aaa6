// Package exchange implements the PaperExchange (C7): deterministic
// simulated fills against the current spot price, with configurable
// slippage and fees and an append-only executions ledger.
//
// The mutex-guarded in-memory bookkeeping is carried from the teacher's
// internal/broker.PaperBroker; the fill model itself (slippage applied
// against the adverse side, immediate rejection on missing price,
// limit-not-reached handling) is ported from
// original_source/crypto/trading/paper_exchange.py.
package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/nitinkhare/cryptoswing/internal/market"
	"github.com/nitinkhare/cryptoswing/internal/model"
)

// DefaultFeeRate and DefaultSlippageRate are the spec's defaults
// (SPEC_FULL.md §4.7), used whenever a cycle doesn't override them.
const (
	DefaultFeeRate      = 0.001
	DefaultSlippageRate = 0.0005
)

// BuyResult and SellResult mirror the Python adapter's response dict,
// typed for the Go caller instead of returned as a map.
type BuyResult struct {
	Success       bool
	OrderID       int64
	Symbol        string
	ExecutedPrice float64
	Quantity      float64
	QuoteAmount   float64
	Fee           float64
	Message       string
}

type SellResult struct {
	Success       bool
	OrderID       int64
	Symbol        string
	ExecutedPrice float64
	Quantity      float64
	GrossAmount   float64
	Fee           float64
	NetAmount     float64
	Message       string
}

// Exchange is the narrow execution interface the portfolio controller
// depends on. A real-money implementation is a SPEC_FULL.md non-goal;
// PaperExchange is the only implementation.
type Exchange interface {
	Buy(ctx context.Context, symbol string, quoteAmount float64, limitPrice *float64, metadata string) (BuyResult, error)
	SellAll(ctx context.Context, symbol string, quantity float64, limitPrice *float64, metadata string) (SellResult, error)
	Executions() []model.OrderExecution
}

// PaperExchange fills orders at the current spot price adjusted by a
// fixed slippage rate, and assesses a proportional fee on the traded
// notional. Every call appends exactly one OrderExecution, whether
// filled, unfilled, or rejected.
type PaperExchange struct {
	mu           sync.Mutex
	spot         market.MarketData
	feeRate      float64
	slippageRate float64
	nextID       int64
	executions   []model.OrderExecution
	now          func() time.Time
}

// NewPaperExchange constructs a PaperExchange backed by spot for price
// discovery. fee and slippage default to DefaultFeeRate/DefaultSlippageRate
// when zero.
func NewPaperExchange(spot market.MarketData, feeRate, slippageRate float64) *PaperExchange {
	if feeRate == 0 {
		feeRate = DefaultFeeRate
	}
	if slippageRate == 0 {
		slippageRate = DefaultSlippageRate
	}
	return &PaperExchange{
		spot:         spot,
		feeRate:      feeRate,
		slippageRate: slippageRate,
		now:          time.Now,
	}
}

func (pe *PaperExchange) record(symbol string, side model.OrderSide, orderType model.OrderType, status model.OrderStatus, requestedPrice *float64, executedPrice, quantity, quoteAmount, fee float64, message, metadata string) model.OrderExecution {
	pe.nextID++
	exec := model.OrderExecution{
		ID:             pe.nextID,
		Symbol:         symbol,
		Side:           side,
		OrderType:      orderType,
		Status:         status,
		RequestedPrice: requestedPrice,
		ExecutedPrice:  executedPrice,
		Quantity:       quantity,
		QuoteAmount:    quoteAmount,
		FeeAmount:      fee,
		Mode:           model.ExecutionModePaper,
		Message:        message,
		Metadata:       metadata,
		CreatedAt:      pe.now(),
	}
	pe.executions = append(pe.executions, exec)
	return exec
}

func orderType(limitPrice *float64) model.OrderType {
	if limitPrice != nil {
		return model.OrderTypeLimit
	}
	return model.OrderTypeMarket
}

// Buy fills quoteAmount worth of symbol at spot*(1+slippage), subject to
// an optional limit ceiling. Rejected when spot price is unavailable;
// unfilled when the slipped price exceeds the limit.
func (pe *PaperExchange) Buy(ctx context.Context, symbol string, quoteAmount float64, limitPrice *float64, metadata string) (BuyResult, error) {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	ot := orderType(limitPrice)

	marketPrice, err := pe.spot.SpotPrice(ctx, symbol)
	if err != nil || marketPrice <= 0 {
		exec := pe.record(symbol, model.OrderSideBuy, ot, model.OrderStatusRejected, limitPrice, 0, 0, quoteAmount, 0, "price unavailable", metadata)
		return BuyResult{Success: false, OrderID: exec.ID, Symbol: symbol, Message: "price unavailable"}, nil
	}

	execPrice := marketPrice * (1 + pe.slippageRate)
	if limitPrice != nil && execPrice > *limitPrice {
		exec := pe.record(symbol, model.OrderSideBuy, ot, model.OrderStatusUnfilled, limitPrice, 0, 0, quoteAmount, 0, "limit not reached", metadata)
		return BuyResult{Success: false, OrderID: exec.ID, Symbol: symbol, Message: "limit not reached"}, nil
	}

	qty := quoteAmount / execPrice
	fee := quoteAmount * pe.feeRate

	exec := pe.record(symbol, model.OrderSideBuy, ot, model.OrderStatusFilled, limitPrice, execPrice, qty, quoteAmount, fee, "filled", metadata)
	return BuyResult{
		Success:       true,
		OrderID:       exec.ID,
		Symbol:        symbol,
		ExecutedPrice: execPrice,
		Quantity:      qty,
		QuoteAmount:   quoteAmount,
		Fee:           fee,
		Message:       "filled",
	}, nil
}

// SellAll fills quantity of symbol at spot*(1-slippage), subject to an
// optional limit floor. Rejected when spot price or quantity is invalid;
// unfilled when the slipped price is below the limit.
func (pe *PaperExchange) SellAll(ctx context.Context, symbol string, quantity float64, limitPrice *float64, metadata string) (SellResult, error) {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	ot := orderType(limitPrice)

	marketPrice, err := pe.spot.SpotPrice(ctx, symbol)
	if err != nil || marketPrice <= 0 || quantity <= 0 {
		exec := pe.record(symbol, model.OrderSideSell, ot, model.OrderStatusRejected, limitPrice, 0, quantity, 0, 0, "invalid price or quantity", metadata)
		return SellResult{Success: false, OrderID: exec.ID, Symbol: symbol, Message: "invalid price or quantity"}, nil
	}

	execPrice := marketPrice * (1 - pe.slippageRate)
	if limitPrice != nil && execPrice < *limitPrice {
		exec := pe.record(symbol, model.OrderSideSell, ot, model.OrderStatusUnfilled, limitPrice, 0, quantity, 0, 0, "limit not reached", metadata)
		return SellResult{Success: false, OrderID: exec.ID, Symbol: symbol, Message: "limit not reached"}, nil
	}

	gross := quantity * execPrice
	fee := gross * pe.feeRate
	net := gross - fee

	exec := pe.record(symbol, model.OrderSideSell, ot, model.OrderStatusFilled, limitPrice, execPrice, quantity, gross, fee, "filled", metadata)
	return SellResult{
		Success:       true,
		OrderID:       exec.ID,
		Symbol:        symbol,
		ExecutedPrice: execPrice,
		Quantity:      quantity,
		GrossAmount:   gross,
		Fee:           fee,
		NetAmount:     net,
		Message:       "filled",
	}, nil
}

// Executions returns a snapshot copy of the ledger accumulated so far.
func (pe *PaperExchange) Executions() []model.OrderExecution {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	out := make([]model.OrderExecution, len(pe.executions))
	copy(out, pe.executions)
	return out
}
