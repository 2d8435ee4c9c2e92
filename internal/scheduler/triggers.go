package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caevv/gitpulse/internal/config"
)

// parseTimeOfDay splits a validated "HH:MM" string.
func parseTimeOfDay(s string) (hour, minute int, err error) {
	if err := config.ValidateTimeOfDay(s); err != nil {
		return 0, 0, err
	}
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	hour, _ = strconv.Atoi(parts[0])
	minute, _ = strconv.Atoi(parts[1])
	return hour, minute, nil
}

// dailySpec builds the cron expression for a daily trigger at timeOfDay.
func dailySpec(timeOfDay string) (string, error) {
	h, m, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

// weeklySpec builds the cron expression for a weekly trigger on day at
// timeOfDay.
func weeklySpec(day, timeOfDay string) (string, error) {
	dow, err := config.Weekday(day)
	if err != nil {
		return "", err
	}
	h, m, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * %d", m, h, dow), nil
}

// monthlySpec builds the cron expression for a monthly trigger on
// day-of-month dom at timeOfDay.
func monthlySpec(dom int, timeOfDay string) (string, error) {
	if dom < 1 || dom > 28 {
		return "", fmt.Errorf("day of month must be 1..28, got %d", dom)
	}
	h, m, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d %d * *", m, h, dom), nil
}

// yearlySpec builds the cron expression for a yearly trigger on month/dom
// at timeOfDay.
func yearlySpec(month, dom int, timeOfDay string) (string, error) {
	if month < 1 || month > 12 {
		return "", fmt.Errorf("month must be 1..12, got %d", month)
	}
	if dom < 1 || dom > 28 {
		return "", fmt.Errorf("day of month must be 1..28, got %d", dom)
	}
	h, m, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d %d %d *", m, h, dom, month), nil
}
