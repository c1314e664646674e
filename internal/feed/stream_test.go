package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ospreyquant/decision-engine/internal/broker"
	"github.com/ospreyquant/decision-engine/pkg/types"
)

func newTestStream(windowSize int) *Stream {
	cfg := DefaultConfig()
	cfg.WindowSize = windowSize
	return NewStream(zap.NewNop(), cfg)
}

func bar(ticker string, close float64) types.Bar {
	return types.Bar{
		Ticker:    ticker,
		Open:      close - 0.5,
		High:      close + 0.5,
		Low:       close - 1,
		Close:     close,
		Volume:    1000,
		Timestamp: time.Now().UTC(),
	}
}

func TestAppendEvictsOldest(t *testing.T) {
	s := newTestStream(3)
	for i := 0; i < 5; i++ {
		s.Append(bar("SPY", 100+float64(i)))
	}

	bars, err := s.LatestBars(context.Background(), "SPY", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 3 {
		t.Fatalf("window = %d bars, want bounded at 3", len(bars))
	}
	if bars[0].Close != 102 || bars[2].Close != 104 {
		t.Errorf("window = [%v..%v], want [102..104]", bars[0].Close, bars[2].Close)
	}
}

func TestLatestBarsFreshestLast(t *testing.T) {
	s := newTestStream(10)
	s.Append(bar("SPY", 100))
	s.Append(bar("SPY", 101))
	s.Append(bar("SPY", 102))

	bars, err := s.LatestBars(context.Background(), "SPY", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 || bars[0].Close != 101 || bars[1].Close != 102 {
		t.Errorf("bars = %+v, want the two freshest, oldest first", bars)
	}
}

func TestLatestBarsUnknownTicker(t *testing.T) {
	s := newTestStream(10)
	_, err := s.LatestBars(context.Background(), "XYZ", 5)
	if !errors.Is(err, broker.ErrNoSuchTicker) {
		t.Errorf("err = %v, want ErrNoSuchTicker", err)
	}
}

func TestLastClose(t *testing.T) {
	s := newTestStream(10)
	if got := s.LastClose("SPY"); got != 0 {
		t.Errorf("LastClose before data = %v, want 0", got)
	}
	s.Append(bar("SPY", 100))
	s.Append(bar("SPY", 101.5))
	if got := s.LastClose("SPY"); got != 101.5 {
		t.Errorf("LastClose = %v, want 101.5", got)
	}
}

func TestHandleMessageAppendsBar(t *testing.T) {
	s := newTestStream(10)
	var seen []types.Bar
	s.OnBar(func(b types.Bar) { seen = append(seen, b) })

	s.handleMessage([]byte(`{"ticker":"SPY","open":99.5,"high":100.5,"low":99,"close":100,"volume":1200,"timestamp":1717339200000}`))

	bars, err := s.LatestBars(context.Background(), "SPY", 1)
	if err != nil {
		t.Fatal(err)
	}
	if bars[0].Close != 100 || bars[0].Volume != 1200 {
		t.Errorf("bar = %+v, want the decoded message", bars[0])
	}
	if !bars[0].Timestamp.Equal(time.UnixMilli(1717339200000).UTC()) {
		t.Errorf("timestamp = %v, want decoded from millis", bars[0].Timestamp)
	}
	if len(seen) != 1 {
		t.Errorf("callback fired %d times, want 1", len(seen))
	}
}

func TestHandleMessageDiscardsGarbage(t *testing.T) {
	s := newTestStream(10)
	for _, payload := range []string{
		`not json`,
		`{"ticker":"","close":100}`,
		`{"ticker":"SPY","close":0}`,
		`{"ticker":"SPY","close":-5}`,
	} {
		s.handleMessage([]byte(payload))
	}
	if _, err := s.LatestBars(context.Background(), "SPY", 1); !errors.Is(err, broker.ErrNoSuchTicker) {
		t.Errorf("garbage messages must not create windows, got %v", err)
	}
}

func TestLatestBarsCopyIsIsolated(t *testing.T) {
	s := newTestStream(10)
	s.Append(bar("SPY", 100))

	bars, err := s.LatestBars(context.Background(), "SPY", 1)
	if err != nil {
		t.Fatal(err)
	}
	bars[0].Close = 999

	again, _ := s.LatestBars(context.Background(), "SPY", 1)
	if again[0].Close != 100 {
		t.Error("callers must not be able to mutate the window")
	}
}
