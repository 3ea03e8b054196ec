package candles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

func init() {
	Register("mercadobitcoin", NewMercadoBitcoin)
}

// MercadoBitcoin fetches daily candles from the Mercado Bitcoin candle
// endpoint. Failed attempts are retried up to MaxRetries times, each retry
// waiting a randomized duration capped at the configured timeout; the whole
// call additionally runs under a total deadline of the same timeout.
type MercadoBitcoin struct {
	cfg        Config
	httpClient *http.Client
	logger     *logrus.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewMercadoBitcoin(cfg Config, logger *logrus.Logger) Client {
	return &MercadoBitcoin{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GetCandles requests the candle range for a pair and returns the series
// sorted most-recent-first. Failures are classified into the package error
// taxonomy; nothing is logged on failure at this layer, the caller owns that.
func (mb *MercadoBitcoin) GetCandles(
	ctx context.Context,
	pair string,
	fromTimestamp, toTimestamp int64,
	precision string,
) ([]Candle, error) {
	url := fmt.Sprintf("%s/%s/candle", strings.TrimSuffix(mb.cfg.BaseURL, "/"), pair)

	mb.logger.WithFields(logrus.Fields{
		"url":         url,
		"from":        fromTimestamp,
		"to":          toTimestamp,
		"precision":   precision,
		"timeout":     mb.cfg.Timeout.String(),
		"max_retries": mb.cfg.MaxRetries,
	}).Info("Starting request for candles")

	ctx, cancel := context.WithTimeout(ctx, mb.cfg.Timeout)
	defer cancel()

	attempts := mb.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	var lastStatus int

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := mb.waitBeforeRetry(ctx); err != nil {
				break
			}
		}

		status, body, err := mb.doRequest(ctx, url, pair, fromTimestamp, toTimestamp, precision)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			lastErr = fmt.Errorf("upstream returned status %d", status)
			lastStatus = status
			continue
		}

		var resp candlesResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			// A malformed body is not a transient condition; do not retry.
			return nil, &GenericError{Err: err}
		}

		mb.logger.WithFields(logrus.Fields{
			"status_code": status,
			"response":    string(body),
		}).Info("Finished request for candles")

		return newSeries(resp), nil
	}

	return nil, mb.classify(ctx, lastStatus, lastErr)
}

func (mb *MercadoBitcoin) doRequest(
	ctx context.Context,
	url, pair string,
	fromTimestamp, toTimestamp int64,
	precision string,
) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}

	q := req.URL.Query()
	q.Set("from", strconv.FormatInt(fromTimestamp, 10))
	q.Set("to", strconv.FormatInt(toTimestamp, 10))
	q.Set("precision", precision)
	req.URL.RawQuery = q.Encode()

	resp, err := mb.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}

	return resp.StatusCode, body, nil
}

// waitBeforeRetry sleeps a random duration up to the configured timeout, or
// returns early when the call deadline fires first.
func (mb *MercadoBitcoin) waitBeforeRetry(ctx context.Context) error {
	mb.rngMu.Lock()
	wait := time.Duration(mb.rng.Int63n(int64(mb.cfg.Timeout)))
	mb.rngMu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// classify maps the failure state to the error taxonomy, most specific first:
// an observed HTTP status beats a timeout, a timeout beats a bare transport
// failure.
func (mb *MercadoBitcoin) classify(ctx context.Context, lastStatus int, lastErr error) error {
	if lastStatus != 0 {
		return &RequestClientError{StatusCode: lastStatus}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Err: lastErr}
	}
	if lastErr != nil {
		return &ClientError{Err: lastErr}
	}
	return &GenericError{Err: errors.New("no attempt completed")}
}
