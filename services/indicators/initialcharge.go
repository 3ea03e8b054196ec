package indicators

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"crypto_indicators_backend/models"
	"crypto_indicators_backend/taskq"
)

// ErrAlreadyCharged reports that the moving-average table is not empty, in
// which case a backfill would collide with existing rows.
var ErrAlreadyCharged = errors.New("cannot proceed as there are already records in the table")

// InitialCharge backfills the moving-average table by dispatching one
// calculation per tracked pair for each of the last `days` days. Every
// dispatched message expires 24 hours out. It refuses to run against a
// non-empty table.
func (r *TaskRunner) InitialCharge(ctx context.Context, db *gorm.DB, days int) error {
	var existing models.SimpleMovingAverage
	err := db.WithContext(ctx).First(&existing).Error
	if err == nil {
		r.logger.Error("Cannot proceed with initial charge, the table already has records")
		return ErrAlreadyCharged
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := r.now()
	expiresAt := now.Add(24 * time.Hour)

	r.logger.WithField("days", days).Info(
		"Starting initial charge for simple moving average indicator")

	for day := 0; day < days; day++ {
		started := now.AddDate(0, 0, -(days - day))

		for _, pair := range r.cfg.Pairs {
			payload := calculatePayload{
				Pair:            pair,
				Precision:       r.cfg.Precision,
				DatetimeStarted: started.Format(time.RFC3339),
			}
			err := r.queue.Enqueue(ctx, QueueCalculate, TaskCalculate, payload, taskq.Options{
				ExpiresAt: expiresAt,
			})
			if err != nil {
				r.logger.WithFields(logrus.Fields{
					"days": days,
					"pair": pair,
					"day":  day + 1,
				}).WithError(err).Error("An error occurred in the initial load request")
				return err
			}
		}
	}

	r.logger.WithField("days", days).Info(
		"Simple moving average initial load processing request completed")
	return nil
}
