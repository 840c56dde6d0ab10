package bootstrap

import (
	"context"
	"time"

	"github.com/Domenick1991/spiritbooking/config"
	"github.com/go-co-op/gocron/v2"
)

// ScheduleReminderSweep registers the periodic reminder job. Without Redis
// there is nothing to deduplicate reminders against, so the job is skipped
// with a warning and false is returned.
func ScheduleReminderSweep(ctx context.Context, scheduler gocron.Scheduler, deps *Deps, cfg config.Config) (bool, error) {
	if deps.Cache == nil {
		deps.Log.Warn("redis is not configured, reminder sweep disabled to avoid duplicate reminders")
		return false, nil
	}

	lead := cfg.Booking.ReminderLead()
	_, err := scheduler.NewJob(
		gocron.DurationJob(time.Duration(cfg.Worker.ReminderSweepMinutes)*time.Minute),
		gocron.NewTask(func() {
			if _, err := deps.Service.SendDueReminders(ctx, lead); err != nil {
				deps.Log.WithError(err).Error("reminder sweep failed")
			}
		}),
		gocron.WithName("reminder-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return false, err
	}
	return true, nil
}
