package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ospreyquant/decision-engine/pkg/types"
)

func fixedPrice(p float64) PriceFunc {
	return func(string) float64 { return p }
}

func TestPaperBuyOpensPosition(t *testing.T) {
	p := NewPaperAdapter(zap.NewNop(), fixedPrice(100))
	ctx := context.Background()

	fill, err := p.SubmitMarketOrder(ctx, "SPY", types.OrderSideBuy, 10)
	if err != nil {
		t.Fatal(err)
	}
	if fill.FilledQty != 10 || !fill.FilledPrice.Equal(decimal.NewFromFloat(100)) {
		t.Errorf("fill = %+v, want 10 @ 100", fill)
	}

	positions, err := p.Positions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	if positions[0].Quantity != 10 {
		t.Errorf("quantity = %d, want 10", positions[0].Quantity)
	}
}

func TestPaperBuyAveragesPrice(t *testing.T) {
	price := 100.0
	p := NewPaperAdapter(zap.NewNop(), func(string) float64 { return price })
	ctx := context.Background()

	if _, err := p.SubmitMarketOrder(ctx, "SPY", types.OrderSideBuy, 10); err != nil {
		t.Fatal(err)
	}
	price = 110
	if _, err := p.SubmitMarketOrder(ctx, "SPY", types.OrderSideBuy, 10); err != nil {
		t.Fatal(err)
	}

	positions, _ := p.Positions(ctx)
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	if !positions[0].AvgPrice.Equal(decimal.NewFromFloat(105)) {
		t.Errorf("avg price = %s, want 105", positions[0].AvgPrice)
	}
}

func TestPaperSellClosesPosition(t *testing.T) {
	p := NewPaperAdapter(zap.NewNop(), fixedPrice(100))
	ctx := context.Background()

	if _, err := p.SubmitMarketOrder(ctx, "SPY", types.OrderSideBuy, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := p.SubmitExitOrder(ctx, "SPY", 10, types.OrderSideSell); err != nil {
		t.Fatal(err)
	}

	positions, _ := p.Positions(ctx)
	if len(positions) != 0 {
		t.Errorf("positions = %+v, want empty book after full exit", positions)
	}
}

func TestPaperOversellRejected(t *testing.T) {
	p := NewPaperAdapter(zap.NewNop(), fixedPrice(100))
	ctx := context.Background()

	if _, err := p.SubmitMarketOrder(ctx, "SPY", types.OrderSideBuy, 10); err != nil {
		t.Fatal(err)
	}
	_, err := p.SubmitMarketOrder(ctx, "SPY", types.OrderSideSell, 11)
	if !errors.Is(err, ErrOrderRejected) {
		t.Errorf("err = %v, want ErrOrderRejected", err)
	}
}

func TestPaperMarketClosed(t *testing.T) {
	p := NewPaperAdapter(zap.NewNop(), fixedPrice(100))
	p.SetMarketOpen(false)

	_, err := p.SubmitMarketOrder(context.Background(), "SPY", types.OrderSideBuy, 10)
	if !errors.Is(err, ErrMarketClosed) {
		t.Errorf("err = %v, want ErrMarketClosed", err)
	}
}

func TestPaperNoPriceRejected(t *testing.T) {
	p := NewPaperAdapter(zap.NewNop(), fixedPrice(0))
	_, err := p.SubmitMarketOrder(context.Background(), "SPY", types.OrderSideBuy, 10)
	if !errors.Is(err, ErrOrderRejected) {
		t.Errorf("err = %v, want ErrOrderRejected without a price", err)
	}
}

type failingSource struct{}

func (failingSource) Sentiment(context.Context, string) (*types.SentimentInput, error) {
	return nil, errors.New("upstream down")
}

func TestBoundedSentimentNilSource(t *testing.T) {
	b := NewBoundedSentiment(zap.NewNop(), nil, time.Second, 10)
	input, err := b.Sentiment(context.Background(), "SPY")
	if err != nil || input != nil {
		t.Errorf("got %v, %v, want nil, nil without a source", input, err)
	}
}

func TestBoundedSentimentDegradesOnError(t *testing.T) {
	b := NewBoundedSentiment(zap.NewNop(), failingSource{}, time.Second, 10)
	input, err := b.Sentiment(context.Background(), "SPY")
	if err != nil {
		t.Errorf("upstream failure must not propagate: %v", err)
	}
	if input != nil {
		t.Errorf("input = %+v, want nil on failure", input)
	}
}

func TestBoundedSentimentLocalLimiter(t *testing.T) {
	want := &types.SentimentInput{Score: 0.4}
	b := NewBoundedSentiment(zap.NewNop(), &StaticSentiment{Input: want}, time.Second, 1)
	ctx := context.Background()

	input, err := b.Sentiment(ctx, "SPY")
	if err != nil || input != want {
		t.Fatalf("first call: got %v, %v", input, err)
	}
	// Burst of 1: the immediate second call is refused locally.
	input, err = b.Sentiment(ctx, "SPY")
	if err != nil {
		t.Fatal(err)
	}
	if input != nil {
		t.Errorf("input = %+v, want nil when the local limiter refuses", input)
	}
}
