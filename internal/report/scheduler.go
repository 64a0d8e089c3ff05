package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"cdr-analytics/internal/models"
)

// Executor runs one report request.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Scheduler triggers the weekly and monthly reports on cron schedules
// evaluated in the reporting time zone.
type Scheduler struct {
	cron *cron.Cron
	exec Executor
	loc  *time.Location
	now  func() time.Time
	ctx  context.Context
}

// NewScheduler registers the weekly and monthly jobs. An empty schedule
// disables that job.
func NewScheduler(exec Executor, loc *time.Location, weekly, monthly string) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		exec: exec,
		loc:  loc,
		now:  time.Now,
		ctx:  context.Background(),
	}

	jobs := []struct {
		spec string
		kind models.ReportKind
	}{
		{spec: weekly, kind: models.ReportWeekly},
		{spec: monthly, kind: models.ReportMonthly},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		kind := j.kind
		if _, err := s.cron.AddFunc(j.spec, func() { s.Trigger(s.ctx, kind) }); err != nil {
			return nil, fmt.Errorf("schedule %s report %q: %w", kind, j.spec, err)
		}
	}
	return s, nil
}

// Jobs returns the number of registered schedules.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start runs the schedules until Stop. Jobs inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		slog.Info("report schedule registered", "next", e.Next)
	}
}

// Stop halts the schedules and returns a context done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Trigger runs the report of kind for the period preceding now.
func (s *Scheduler) Trigger(ctx context.Context, kind models.ReportKind) {
	req, err := ScheduledRequest(kind, s.now(), s.loc)
	if err != nil {
		slog.Error("scheduled report skipped", "kind", kind, "error", err)
		return
	}

	res, err := s.exec.Execute(ctx, req)
	if err != nil {
		slog.Error("scheduled report failed", "kind", kind, "error", err)
		return
	}
	slog.Info("scheduled report finished",
		"kind", kind,
		"execution_id", res.Execution.ID,
		"sent", res.Statistics.TotalSent,
		"succeeded", res.Statistics.TotalSuccessful,
		"failed", res.Statistics.TotalFailed)
}

// ScheduledRequest builds the request of a scheduled run of kind. Weekly
// reports cover the previous week and monthly ones the previous month.
func ScheduledRequest(kind models.ReportKind, now time.Time, loc *time.Location) (Request, error) {
	req := Request{Kind: kind, Trigger: models.TriggerScheduled}
	switch kind {
	case models.ReportWeekly:
		req.Range = WeeklyPeriod(now, loc)
	case models.ReportMonthly:
		req.Range = MonthlyPeriod(now, loc)
	default:
		return Request{}, fmt.Errorf("%w: %s reports are not scheduled", models.ErrInvalidArgument, kind)
	}
	return req, nil
}
