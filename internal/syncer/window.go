package syncer

import (
	"fmt"
	"time"

	"mailpilot/internal/mailbox"
	"mailpilot/internal/model"
)

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	model.DateLayout,
}

// ParseTime accepts RFC3339, or a zone-less timestamp interpreted in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// DayWindow covers one calendar day in loc.
func DayWindow(date string, loc *time.Location) (mailbox.Window, error) {
	start, err := time.ParseInLocation(model.DateLayout, date, loc)
	if err != nil {
		return mailbox.Window{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return mailbox.Window{Start: start, End: start.AddDate(0, 0, 1)}, nil
}

// RangeWindow covers the calendar days from startDate through endDate inclusive.
func RangeWindow(startDate, endDate string, loc *time.Location) (mailbox.Window, error) {
	first, err := DayWindow(startDate, loc)
	if err != nil {
		return mailbox.Window{}, err
	}
	last, err := DayWindow(endDate, loc)
	if err != nil {
		return mailbox.Window{}, err
	}
	if last.End.Before(first.Start) {
		return mailbox.Window{}, fmt.Errorf("end date %s before start date %s", endDate, startDate)
	}
	return mailbox.Window{Start: first.Start, End: last.End}, nil
}

// IncrementalWindow 从上次水位线同步到 now；没有水位线时回溯 defaultDays 天
func IncrementalWindow(last time.Time, ok bool, now time.Time, defaultDays int) mailbox.Window {
	start := last
	if !ok || !last.Before(now) {
		start = now.AddDate(0, 0, -defaultDays)
	}
	return mailbox.Window{Start: start, End: now}
}
