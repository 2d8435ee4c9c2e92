package pipeline

import (
	"fmt"
	"time"
)

// Window is one fixed time chunk of a fetch range. Once a window has
// fully elapsed its remote search is idempotent and cacheable
// independently, so a fetch spanning months can be interrupted and
// resumed window-by-window. A still-open window accumulates new activity
// and must not be served from cache.
type Window struct {
	Key  string
	From time.Time
	To   time.Time
}

// OpenAt reports whether the window can still accumulate new activity at
// now, i.e. its To has not fully elapsed yet.
func (w Window) OpenAt(now time.Time) bool {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, w.To.Location())
	return !w.To.Before(today)
}

// MonthWindow returns the calendar-month window containing date.
func MonthWindow(date time.Time) Window {
	from := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, date.Location())
	to := from.AddDate(0, 1, -1)
	return Window{
		Key:  from.Format("2006-01"),
		From: from,
		To:   to,
	}
}

// SplitMonths partitions [since, until] into calendar-month windows.
// Boundary windows keep the full month as their key, so a partial month
// re-fetched later resolves to the same cache record.
func SplitMonths(since, until time.Time) []Window {
	if since.After(until) {
		return nil
	}

	var windows []Window
	for cur := MonthWindow(since); !cur.From.After(until); cur = MonthWindow(cur.From.AddDate(0, 1, 0)) {
		windows = append(windows, cur)
	}
	return windows
}

// SplitDays partitions [since, until] into fixed chunks of chunkDays days.
func SplitDays(since, until time.Time, chunkDays int) []Window {
	if since.After(until) || chunkDays <= 0 {
		return nil
	}

	var windows []Window
	for cur := since; !cur.After(until); cur = cur.AddDate(0, 0, chunkDays) {
		end := cur.AddDate(0, 0, chunkDays-1)
		if end.After(until) {
			end = until
		}
		windows = append(windows, Window{
			Key:  fmt.Sprintf("%s_%s", cur.Format(time.DateOnly), end.Format(time.DateOnly)),
			From: cur,
			To:   end,
		})
	}
	return windows
}
