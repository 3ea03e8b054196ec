package indicators

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"crypto_indicators_backend/models"
	"crypto_indicators_backend/services/candles"
)

// requiredCandles is the minimum series length: below it the 200-day average
// is undefined.
const requiredCandles = 200

// ErrInsufficientCandles reports that the upstream returned fewer than 200
// candles for the requested window.
var ErrInsufficientCandles = errors.New("the amount of candles returned by the API is less than two hundred")

const decimalPlaces = 10

// SMAResult holds the three computed window averages.
type SMAResult struct {
	MMS20  decimal.Decimal
	MMS50  decimal.Decimal
	MMS200 decimal.Decimal
}

// ComputeSimpleMovingAverages computes the 20/50/200 simple moving averages
// over a series sorted most-recent-first. Each window is the arithmetic mean
// of the close price over the first N candles, i.e. the most recent N closes,
// not a calendar window. The mean is exact decimal arithmetic; quantization to
// 10 fraction digits (banker's rounding) is applied once, as the last step.
func ComputeSimpleMovingAverages(series []candles.Candle) (SMAResult, error) {
	if len(series) < requiredCandles {
		return SMAResult{}, ErrInsufficientCandles
	}

	return SMAResult{
		MMS20:  meanClose(series[:20]),
		MMS50:  meanClose(series[:50]),
		MMS200: meanClose(series[:200]),
	}, nil
}

func meanClose(window []candles.Candle) decimal.Decimal {
	sum := decimal.Zero
	for _, candle := range window {
		sum = sum.Add(candle.Close)
	}
	// Divisors of 20, 50 and 200 give exact finite quotients for 10-digit
	// inputs, so the division itself loses nothing before the quantize.
	return sum.Div(decimal.NewFromInt(int64(len(window)))).RoundBank(decimalPlaces)
}

// Calculator fetches a candle window, computes the moving averages and
// persists one SimpleMovingAverage row.
type Calculator struct {
	db     *gorm.DB
	client candles.Client
	logger *logrus.Logger
}

func NewCalculator(db *gorm.DB, client candles.Client, logger *logrus.Logger) *Calculator {
	return &Calculator{db: db, client: client, logger: logger}
}

// CalculateAndStore computes the averages for the window and inserts the row
// keyed by (pair, precision, timestamp). A row that already exists for that
// key surfaces as gorm.ErrDuplicatedKey; the calculator never upserts.
func (c *Calculator) CalculateAndStore(
	ctx context.Context,
	pair, precision string,
	timestamp, fromTimestamp, toTimestamp int64,
) error {
	series, err := c.client.GetCandles(ctx, pair, fromTimestamp, toTimestamp, precision)
	if err != nil {
		return err
	}

	result, err := ComputeSimpleMovingAverages(series)
	if err != nil {
		return err
	}

	record := models.SimpleMovingAverage{
		Pair:      pair,
		Precision: precision,
		Timestamp: timestamp,
		MMS20:     result.MMS20,
		MMS50:     result.MMS50,
		MMS200:    result.MMS200,
	}

	return c.db.WithContext(ctx).Create(&record).Error
}

// GetSimpleMovingAverageVariations filters the stored rows for a pair and
// precision by timestamp range, oldest first. This is the read API's sole
// dependency on the pipeline.
func GetSimpleMovingAverageVariations(
	db *gorm.DB,
	pair, precision string,
	fromTimestamp, toTimestamp int64,
) ([]models.SimpleMovingAverage, error) {
	var rows []models.SimpleMovingAverage
	err := db.
		Where("pair = ? AND precision = ? AND timestamp BETWEEN ? AND ?",
			pair, precision, fromTimestamp, toTimestamp).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
