// Package broker defines the narrow contracts to external collaborators
// (bar source, sentiment source, execution adapter, persistence,
// notification) plus the paper-trading implementations used in
// development and tests. Expected failures such as "market closed" or
// "rejected" are typed error kinds consumed by the pipeline's branch
// logic.
package broker

import (
	"context"
	"errors"

	"github.com/ospreyquant/decision-engine/pkg/types"
)

// Expected execution failure kinds.
var (
	ErrMarketClosed  = errors.New("market closed")
	ErrOrderRejected = errors.New("order rejected")
	ErrNoSuchTicker  = errors.New("no data for ticker")
)

// BarSource provides trailing bar windows, freshest last. It may return
// fewer bars than requested.
type BarSource interface {
	LatestBars(ctx context.Context, ticker string, n int) ([]types.Bar, error)
}

// SentimentSource provides an optional sentiment input per ticker. A nil
// input with nil error means "no sentiment available" and is not a
// failure.
type SentimentSource interface {
	Sentiment(ctx context.Context, ticker string) (*types.SentimentInput, error)
}

// ExecutionAdapter submits orders and reports positions.
type ExecutionAdapter interface {
	SubmitMarketOrder(ctx context.Context, ticker string, side types.OrderSide, quantity int64) (*types.Fill, error)
	Positions(ctx context.Context) ([]types.Position, error)
	SubmitExitOrder(ctx context.Context, ticker string, quantity int64, side types.OrderSide) (*types.Fill, error)
}

// SignalStore persists signals and fills for audit. Not required for the
// correctness of in-memory decisions.
type SignalStore interface {
	SaveSignal(ctx context.Context, signal *types.TradingSignal) error
	SaveFill(ctx context.Context, fill *types.Fill) error
}

// Notifier delivers pre-formatted messages. Fire-and-forget: failures are
// logged by the caller and never propagated as pipeline errors.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}
