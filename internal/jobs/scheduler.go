package jobs

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/raulgabino/panwhat-sub000/internal/config"
	"github.com/raulgabino/panwhat-sub000/internal/domain"
)

type reanalysisSubmitter interface {
	SubmitReanalysis(ctx context.Context) (domain.Job, error)
}

// StartReanalysisScheduler periodically queues an accumulative job over every
// stored transcript. The schedule is a standard 5-field cron expression
// (minute hour day-of-month month day-of-week), e.g. "0 6 * * *" for daily at
// 6am. Completion is reported through the queue's hooks. It reports whether a
// schedule was started.
func StartReanalysisScheduler(ctx context.Context, cfg config.Config, q reanalysisSubmitter) bool {
	schedule := strings.TrimSpace(cfg.ReanalysisSchedule)
	if schedule == "" {
		log.Println("Scheduled re-analysis disabled (reanalysis_schedule not set)")
		return false
	}

	sched, err := config.ParseSchedule(schedule)
	if err != nil {
		log.Printf("Invalid reanalysis_schedule '%s': %v, re-analysis disabled", schedule, err)
		return false
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	log.Printf("Re-analysis scheduled (cron: %s, tz: %s)", schedule, loc)

	go runSchedule(ctx, sched, loc, q)
	return true
}

func runSchedule(ctx context.Context, sched cron.Schedule, loc *time.Location, q reanalysisSubmitter) {
	for {
		now := time.Now().In(loc)
		next := sched.Next(now)
		wait := next.Sub(now)
		log.Printf("Next re-analysis at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		job, err := q.SubmitReanalysis(ctx)
		if err != nil {
			log.Printf("Re-analysis submit error: %v", err)
			continue
		}
		log.Printf("Re-analysis queued id=%s", job.ID)
	}
}
