package report

import (
	"fmt"
	"time"

	"cdr-analytics/internal/models"
)

// WeeklyPeriod returns the previous complete week, Monday 00:00 to Sunday
// 23:59:59.999999999 in loc, as a UTC range.
func WeeklyPeriod(now time.Time, loc *time.Location) models.DateRange {
	local := now.In(loc)
	sinceMonday := (int(local.Weekday()) - int(time.Monday) + 7) % 7
	thisMonday := time.Date(local.Year(), local.Month(), local.Day()-sinceMonday, 0, 0, 0, 0, loc)
	start := thisMonday.AddDate(0, 0, -7)
	end := thisMonday.Add(-time.Nanosecond)
	return models.NewDateRange(start, end)
}

// MonthlyPeriod returns the previous calendar month in loc as a UTC range.
func MonthlyPeriod(now time.Time, loc *time.Location) models.DateRange {
	local := now.In(loc)
	thisMonth := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	start := thisMonth.AddDate(0, -1, 0)
	end := thisMonth.Add(-time.Nanosecond)
	return models.NewDateRange(start, end)
}

// Subject formats the mail subject, dates shown in loc.
func Subject(org string, kind models.ReportKind, rng models.DateRange, loc *time.Location) string {
	const layout = "02 Jan 2006"
	return fmt.Sprintf("[%s] %s CDR Report - %s - %s",
		org, kindTitle(kind), rng.Start.In(loc).Format(layout), rng.End.In(loc).Format(layout))
}

// FileName names the CSV attachment of a run.
func FileName(kind models.ReportKind, rng models.DateRange, loc *time.Location, suffix string) string {
	const layout = "20060102"
	name := fmt.Sprintf("CDR_%s_%s-%s", kind, rng.Start.In(loc).Format(layout), rng.End.In(loc).Format(layout))
	if suffix != "" {
		name += "_" + suffix
	}
	return name + ".csv"
}

func kindTitle(kind models.ReportKind) string {
	if kind == models.ReportOnDemand {
		return "On-Demand"
	}
	return string(kind)
}
