// Task state machines for the indicator pipeline.
//
// The beat task fans out one calculation per tracked pair: a 24-hour
// calendar-day lock guarantees a pair is scheduled at most once per day, and
// each dispatch carries a randomized countdown plus an end-of-day expiry. The
// calculation task derives the 200-day window, runs the calculator under a
// short lock, and owns its retry policy: 30-minute steps, unbounded, but never
// across a calendar-day boundary.
package indicators

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	json "github.com/goccy/go-json"
	goredis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"crypto_indicators_backend/cache"
	"crypto_indicators_backend/taskq"
)

const (
	QueueSelectPairs = "indicator-mms-select-pairs"
	QueueCalculate   = "indicator-mms-calculate"

	TaskSelectPairs = "indicators.select_pairs_to_mms"
	TaskCalculate   = "indicators.calculate_simple_moving_average"

	// beatLockTTL keeps a pair's "already scheduled today" marker alive for a
	// full day. The beat lock is deliberately left to expire instead of being
	// deleted, so one calendar day's scheduling cannot repeat even after the
	// scheduling process exits.
	beatLockTTL = 24 * time.Hour
)

// TaskConfig carries the pipeline's scheduling knobs.
type TaskConfig struct {
	Pairs     []string
	Precision string

	JitterMin time.Duration
	JitterMax time.Duration

	BeatMaxRetries int
	BeatRetryBase  time.Duration
	BeatRetryMax   time.Duration

	CalcLockTTL    time.Duration
	CalcRetryDelay time.Duration
}

// DefaultTaskConfig returns the production scheduling parameters.
func DefaultTaskConfig(pairs []string, precision string) TaskConfig {
	return TaskConfig{
		Pairs:          pairs,
		Precision:      precision,
		JitterMin:      30 * time.Second,
		JitterMax:      120 * time.Second,
		BeatMaxRetries: 3,
		BeatRetryBase:  10 * time.Second,
		BeatRetryMax:   600 * time.Second,
		CalcLockTTL:    300 * time.Second,
		CalcRetryDelay: 30 * time.Minute,
	}
}

type beatPayload struct {
	DatetimeStarted string `json:"datetime_started"`
	Retries         int    `json:"retries"`
}

type calculatePayload struct {
	Pair            string `json:"pair"`
	Precision       string `json:"precision"`
	DatetimeStarted string `json:"datetime_started"`
}

// TaskRunner wires the beat and calculation tasks to the queue, the lock
// cache and the calculator.
type TaskRunner struct {
	cfg    TaskConfig
	redis  *goredis.Client
	queue  *taskq.Queue
	calc   *Calculator
	logger *logrus.Logger

	// seams for tests
	now     func() time.Time
	randInt func(n int) int
}

func NewTaskRunner(
	cfg TaskConfig,
	redis *goredis.Client,
	queue *taskq.Queue,
	calc *Calculator,
	logger *logrus.Logger,
) *TaskRunner {
	return &TaskRunner{
		cfg:     cfg,
		redis:   redis,
		queue:   queue,
		calc:    calc,
		logger:  logger,
		now:     time.Now,
		randInt: rand.Intn,
	}
}

// Register installs the task handlers on the queue.
func (r *TaskRunner) Register() {
	r.queue.Handle(TaskSelectPairs, r.HandleBeat)
	r.queue.Handle(TaskCalculate, r.HandleCalculate)
}

// EnqueueBeat puts one beat invocation on the fan-out queue. Called on the
// external cadence (hourly cron in production).
func (r *TaskRunner) EnqueueBeat(ctx context.Context) error {
	payload := beatPayload{
		DatetimeStarted: r.now().Format(time.RFC3339),
	}
	return r.queue.Enqueue(ctx, QueueSelectPairs, TaskSelectPairs, payload, taskq.Options{})
}

// HandleBeat processes one beat invocation: for every tracked pair, take the
// calendar-day lock and schedule a calculation. Unexpected failures retry the
// whole beat with exponential backoff up to a fixed count, then give up.
func (r *TaskRunner) HandleBeat(ctx context.Context, payload []byte) error {
	var p beatPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode beat payload: %w", err)
	}
	started, err := time.Parse(time.RFC3339, p.DatetimeStarted)
	if err != nil {
		return fmt.Errorf("parse beat datetime_started: %w", err)
	}

	fields := logrus.Fields{
		"task":             TaskSelectPairs,
		"datetime_started": p.DatetimeStarted,
		"precision":        r.cfg.Precision,
	}

	if err := r.selectPairs(ctx, started); err != nil {
		if p.Retries >= r.cfg.BeatMaxRetries {
			r.logger.WithFields(fields).WithError(err).Error(
				"Max retries exceeded when selecting pairs for calculate MMS, giving up")
			return nil
		}

		delay := r.beatBackoff(p.Retries)
		r.logger.WithFields(fields).WithFields(logrus.Fields{
			"retries": p.Retries,
			"delay":   delay.String(),
		}).WithError(err).Error("Error selecting pairs for calculate MMS, retrying")

		retry := beatPayload{DatetimeStarted: p.DatetimeStarted, Retries: p.Retries + 1}
		if enqErr := r.queue.Enqueue(ctx, QueueSelectPairs, TaskSelectPairs, retry, taskq.Options{
			Countdown: delay,
		}); enqErr != nil {
			return fmt.Errorf("reschedule beat: %w", enqErr)
		}
		return nil
	}

	r.logger.WithFields(fields).Info(
		"Request to calculate the simple moving average of pairs successfully performed")
	return nil
}

func (r *TaskRunner) selectPairs(ctx context.Context, started time.Time) error {
	for _, pair := range r.cfg.Pairs {
		if err := r.schedulePair(ctx, pair, started); err != nil {
			var active *cache.LockActiveError
			if errors.As(err, &active) {
				// Another beat invocation already scheduled this pair today.
				continue
			}
			return err
		}
	}
	return nil
}

// schedulePair takes the calendar-day lock for (pair, precision, date) and, if
// acquired, dispatches one calculation with jitter and an end-of-day expiry.
// If dispatch fails after acquisition the lock is released explicitly so a
// later beat run within the same day can retry.
func (r *TaskRunner) schedulePair(ctx context.Context, pair string, started time.Time) error {
	lock := cache.NewCacheLock(r.redis, beatLockKey(pair, r.cfg.Precision, started), cache.LockOptions{
		Expire:       beatLockTTL,
		DeleteOnExit: false,
	})
	if err := lock.Acquire(ctx); err != nil {
		return err
	}

	payload := calculatePayload{
		Pair:            pair,
		Precision:       r.cfg.Precision,
		DatetimeStarted: started.Format(time.RFC3339),
	}

	err := r.queue.Enqueue(ctx, QueueCalculate, TaskCalculate, payload, taskq.Options{
		Countdown: r.jitter(),
		ExpiresAt: endOfDay(started),
	})
	if err != nil {
		if relErr := lock.Release(ctx); relErr != nil {
			r.logger.WithFields(logrus.Fields{
				"pair": pair,
				"key":  lock.Key(),
			}).WithError(relErr).Error("Failed to release schedule lock after enqueue failure")
		}
		return err
	}

	return nil
}

// HandleCalculate processes one calculation invocation. Lock contention is a
// benign outcome; any other failure reschedules the identical payload 30
// minutes out, unless that eta would land on the next calendar date, in which
// case the day is abandoned.
func (r *TaskRunner) HandleCalculate(ctx context.Context, payload []byte) error {
	var p calculatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode calculation payload: %w", err)
	}
	started, err := time.Parse(time.RFC3339, p.DatetimeStarted)
	if err != nil {
		return fmt.Errorf("parse calculation datetime_started: %w", err)
	}

	fields := logrus.Fields{
		"task":             TaskCalculate,
		"pair":             p.Pair,
		"precision":        p.Precision,
		"datetime_started": p.DatetimeStarted,
	}

	runErr := r.runCalculation(ctx, p, started, fields)
	if runErr == nil {
		return nil
	}

	var active *cache.LockActiveError
	if errors.As(runErr, &active) {
		r.logger.WithFields(fields).Info(
			"Processing not completed as there is already another one being processed")
		return nil
	}

	eta := r.now().Add(r.cfg.CalcRetryDelay)
	if !sameDate(eta, started) {
		r.logger.WithFields(fields).WithField("eta", eta.Format(time.RFC3339)).WithError(runErr).Error(
			"Could not calculate simple moving average, giving up for the day")
		return nil
	}

	r.logger.WithFields(fields).WithField("eta", eta.Format(time.RFC3339)).WithError(runErr).Error(
		"Error calculating simple moving average, rescheduling")
	if enqErr := r.queue.Enqueue(ctx, QueueCalculate, TaskCalculate, p, taskq.Options{ETA: eta}); enqErr != nil {
		return fmt.Errorf("reschedule calculation: %w", enqErr)
	}
	return nil
}

func (r *TaskRunner) runCalculation(
	ctx context.Context,
	p calculatePayload,
	started time.Time,
	fields logrus.Fields,
) error {
	fromTimestamp, toTimestamp := CalculationWindow(started)

	lock := cache.NewCacheLock(r.redis, calcLockKey(p.Pair, p.Precision, started), cache.LockOptions{
		Expire:       r.cfg.CalcLockTTL,
		DeleteOnExit: true,
	})
	if err := lock.Acquire(ctx); err != nil {
		return err
	}

	r.logger.WithFields(fields).Info("Starting simple moving average indicator calculation")

	err := r.calc.CalculateAndStore(ctx, p.Pair, p.Precision, toTimestamp, fromTimestamp, toTimestamp)

	if exitErr := lock.Exit(ctx); exitErr != nil && err == nil {
		err = exitErr
	}
	if err != nil {
		return err
	}

	r.logger.WithFields(fields).Info("Successfully calculated simple moving average")
	return nil
}

// CalculationWindow derives the candle window for a run timestamp: the 200
// calendar days ending the day before the run, from 00:00:00 of the earliest
// day through 23:59:59 of the latest. The run day itself is excluded because
// its candle may still be incomplete.
func CalculationWindow(started time.Time) (fromTimestamp, toTimestamp int64) {
	loc := started.Location()

	firstDay := started.AddDate(0, 0, -requiredCandles)
	lastDay := started.AddDate(0, 0, -1)

	from := time.Date(firstDay.Year(), firstDay.Month(), firstDay.Day(), 0, 0, 0, 0, loc)
	to := time.Date(lastDay.Year(), lastDay.Month(), lastDay.Day(), 23, 59, 59, 0, loc)

	return from.Unix(), to.Unix()
}

func (r *TaskRunner) beatBackoff(retries int) time.Duration {
	delay := r.cfg.BeatRetryBase
	for i := 0; i < retries; i++ {
		delay *= 2
		if delay >= r.cfg.BeatRetryMax {
			return r.cfg.BeatRetryMax
		}
	}
	return delay
}

func (r *TaskRunner) jitter() time.Duration {
	spread := int(r.cfg.JitterMax - r.cfg.JitterMin)
	if spread <= 0 {
		return r.cfg.JitterMin
	}
	return r.cfg.JitterMin + time.Duration(r.randInt(spread))
}

func beatLockKey(pair, precision string, started time.Time) string {
	return fmt.Sprintf("task:select-pairs-to-mms:%s-%s-%s", pair, precision, started.Format("2006-01-02"))
}

func calcLockKey(pair, precision string, started time.Time) string {
	return fmt.Sprintf("task:calculate-mms:%s-%s-%s", pair, precision, started.Format("2006-01-02"))
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}
