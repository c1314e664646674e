package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ospreyquant/decision-engine/pkg/types"
)

// PriceFunc supplies the current mark price for a ticker.
type PriceFunc func(ticker string) float64

// PaperAdapter simulates order execution against an in-memory book.
type PaperAdapter struct {
	logger  *zap.Logger
	priceFn PriceFunc

	mu        sync.Mutex
	positions map[string]*types.Position
	open      bool
}

// NewPaperAdapter creates a paper execution adapter. The market starts
// open; SetMarketOpen toggles the closed condition for tests and session
// boundaries.
func NewPaperAdapter(logger *zap.Logger, priceFn PriceFunc) *PaperAdapter {
	return &PaperAdapter{
		logger:    logger.Named("paper"),
		priceFn:   priceFn,
		positions: make(map[string]*types.Position),
		open:      true,
	}
}

// SetMarketOpen toggles the simulated session state.
func (p *PaperAdapter) SetMarketOpen(open bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = open
}

func (p *PaperAdapter) SubmitMarketOrder(_ context.Context, ticker string, side types.OrderSide, quantity int64) (*types.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return nil, ErrMarketClosed
	}
	price := p.priceFn(ticker)
	if price <= 0 || quantity <= 0 {
		return nil, ErrOrderRejected
	}

	fill := &types.Fill{
		ID:          uuid.NewString(),
		Ticker:      ticker,
		Side:        side,
		FilledQty:   quantity,
		FilledPrice: decimal.NewFromFloat(price),
		FilledAt:    time.Now(),
	}

	pos, ok := p.positions[ticker]
	if !ok {
		pos = &types.Position{Ticker: ticker}
		p.positions[ticker] = pos
	}
	qty := decimal.NewFromInt(quantity)
	switch side {
	case types.OrderSideBuy:
		oldValue := pos.AvgPrice.Mul(decimal.NewFromInt(pos.Quantity))
		pos.Quantity += quantity
		pos.AvgPrice = oldValue.Add(fill.FilledPrice.Mul(qty)).Div(decimal.NewFromInt(pos.Quantity))
	case types.OrderSideSell:
		if quantity > pos.Quantity {
			return nil, ErrOrderRejected
		}
		pos.Quantity -= quantity
		if pos.Quantity == 0 {
			delete(p.positions, ticker)
		}
	}
	if ok || side == types.OrderSideBuy {
		pos.CurrentPrice = fill.FilledPrice
	}

	p.logger.Debug("paper fill",
		zap.String("ticker", ticker),
		zap.String("side", string(side)),
		zap.Int64("qty", quantity),
		zap.Float64("price", price),
	)
	return fill, nil
}

func (p *PaperAdapter) Positions(_ context.Context) ([]types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		snapshot := *pos
		snapshot.CurrentPrice = decimal.NewFromFloat(p.priceFn(pos.Ticker))
		out = append(out, snapshot)
	}
	return out, nil
}

func (p *PaperAdapter) SubmitExitOrder(ctx context.Context, ticker string, quantity int64, side types.OrderSide) (*types.Fill, error) {
	return p.SubmitMarketOrder(ctx, ticker, side, quantity)
}
