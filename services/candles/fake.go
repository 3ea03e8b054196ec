package candles

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func init() {
	Register("fake", NewFake)
}

// Fake is a fixture-backed Client for local runs and tests. It serves the
// same contract as the real upstream without any network traffic.
type Fake struct{}

func NewFake(cfg Config, logger *logrus.Logger) Client {
	return &Fake{}
}

func (f *Fake) GetCandles(
	ctx context.Context,
	pair string,
	fromTimestamp, toTimestamp int64,
	precision string,
) ([]Candle, error) {
	return []Candle{
		{
			Timestamp: 1622689200,
			Open:      decimal.RequireFromString("190806.7413400000"),
			Close:     decimal.RequireFromString("198499.9795800000"),
			High:      decimal.RequireFromString("198542.0000000000"),
			Low:       decimal.RequireFromString("190000.0000000000"),
			Volume:    decimal.RequireFromString("72.5853810900"),
		},
	}, nil
}
