package broker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ospreyquant/decision-engine/pkg/types"
)

// BoundedSentiment wraps a sentiment source with a hard timeout and a
// local courtesy limiter. Any failure (timeout, upstream error, limiter
// refusal) degrades to a neutral absent input so a slow scoring call can
// never block a tick.
type BoundedSentiment struct {
	logger  *zap.Logger
	source  SentimentSource
	timeout time.Duration
	limiter *rate.Limiter
}

// NewBoundedSentiment creates the wrapper. maxPerSecond throttles
// outbound calls ahead of the shared tiered limiter.
func NewBoundedSentiment(logger *zap.Logger, source SentimentSource, timeout time.Duration, maxPerSecond float64) *BoundedSentiment {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BoundedSentiment{
		logger:  logger.Named("sentiment"),
		source:  source,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(maxPerSecond), 1),
	}
}

func (b *BoundedSentiment) Sentiment(ctx context.Context, ticker string) (*types.SentimentInput, error) {
	if b.source == nil {
		return nil, nil
	}
	if !b.limiter.Allow() {
		b.logger.Debug("local sentiment limiter refused", zap.String("ticker", ticker))
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	input, err := b.source.Sentiment(ctx, ticker)
	if err != nil {
		b.logger.Warn("sentiment call failed, degrading to neutral",
			zap.String("ticker", ticker), zap.Error(err))
		return nil, nil
	}
	return input, nil
}

// StaticSentiment always returns the same input; used in tests and paper
// runs.
type StaticSentiment struct {
	Input *types.SentimentInput
}

func (s *StaticSentiment) Sentiment(context.Context, string) (*types.SentimentInput, error) {
	return s.Input, nil
}

// LogNotifier writes notifications to the log. The production deployment
// swaps in a chat webhook; either way delivery failures stay local.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) Notify(_ context.Context, message string) error {
	n.Logger.Info("notification", zap.String("message", message))
	return nil
}

// NopSignalStore discards signals and fills; audit persistence is
// optional for in-memory decision correctness.
type NopSignalStore struct{}

func (NopSignalStore) SaveSignal(context.Context, *types.TradingSignal) error { return nil }
func (NopSignalStore) SaveFill(context.Context, *types.Fill) error            { return nil }
