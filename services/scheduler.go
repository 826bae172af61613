// services/scheduler.go
package services

import (
	"context"
	"time"

	"affiliate-commission-system/logging"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartScheduler registers the payout and earnings jobs and starts them.
// The payout job runs Mondays and Fridays and never overlaps itself.
func StartScheduler(ctx context.Context, payouts *PayoutProcessor, affiliates *AffiliateService, refreshEvery time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	hour := uint(payouts.Config.PayoutHourUTC)
	_, err = sched.NewJob(
		gocron.WeeklyJob(1,
			gocron.NewWeekdays(time.Monday, time.Friday),
			gocron.NewAtTimes(gocron.NewAtTime(hour, 0, 0)),
		),
		gocron.NewTask(func() {
			if _, err := payouts.RunBatch(ctx); err != nil {
				logging.Logger.Error("[Scheduler] payout run failed", zap.Error(err))
			}
		}),
		gocron.WithName("payout-batch"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	if refreshEvery <= 0 {
		refreshEvery = time.Hour
	}
	_, err = sched.NewJob(
		gocron.DurationJob(refreshEvery),
		gocron.NewTask(func() {
			if _, err := affiliates.RefreshEarnings(ctx); err != nil {
				logging.Logger.Error("[Scheduler] earnings refresh failed", zap.Error(err))
			}
		}),
		gocron.WithName("earnings-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	logging.Logger.Info("[Scheduler] started",
		zap.Int("payout_hour_utc", int(hour)),
		zap.Duration("earnings_refresh", refreshEvery),
	)
	return sched, nil
}
