package candles

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// decimalPlaces is the fixed fraction-digit precision applied to every price
// and volume field.
const decimalPlaces = 10

// Candle is one OHLCV bucket returned by the upstream market-data service.
// All monetary fields are quantized to 10 fraction digits at construction.
type Candle struct {
	Timestamp int64
	Open      decimal.Decimal
	Close     decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Volume    decimal.Decimal
}

// candlePayload mirrors the upstream JSON shape. The upstream serializes
// prices either as numbers or as numeric strings; decimal.Decimal accepts
// both.
type candlePayload struct {
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	Close     decimal.Decimal `json:"close"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Volume    decimal.Decimal `json:"volume"`
}

type candlesResponse struct {
	Candles []candlePayload `json:"candles"`
}

func (p candlePayload) toCandle() Candle {
	return Candle{
		Timestamp: p.Timestamp,
		Open:      p.Open.RoundBank(decimalPlaces),
		Close:     p.Close.RoundBank(decimalPlaces),
		High:      p.High.RoundBank(decimalPlaces),
		Low:       p.Low.RoundBank(decimalPlaces),
		Volume:    p.Volume.RoundBank(decimalPlaces),
	}
}

// newSeries converts the decoded response into candles sorted by timestamp
// descending (most recent first).
func newSeries(resp candlesResponse) []Candle {
	series := make([]Candle, 0, len(resp.Candles))
	for _, p := range resp.Candles {
		series = append(series, p.toCandle())
	}

	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Timestamp > series[j].Timestamp
	})

	return series
}

func (c Candle) String() string {
	return fmt.Sprintf("Candle{ts=%d close=%s}", c.Timestamp, c.Close)
}
