package sequence

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/leadflow/store"
)

// parseClock parses an HH:MM wall clock value.
func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

func allowedDays(csv string) map[time.Weekday]bool {
	names := map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday,
		"friday": time.Friday, "saturday": time.Saturday,
	}
	days := make(map[time.Weekday]bool)
	for _, part := range strings.Split(csv, ",") {
		if d, ok := names[strings.ToLower(strings.TrimSpace(part))]; ok {
			days[d] = true
		}
	}
	return days
}

// NextSendTime returns the earliest instant at or after now that falls
// inside the campaign's sending window. now itself is returned when it
// already qualifies.
func NextSendTime(campaign *store.Campaign, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(campaign.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load campaign timezone %q: %w", campaign.Timezone, err)
	}

	startH, startM, err := parseClock(campaign.SendingStart)
	if err != nil {
		return time.Time{}, err
	}
	endH, endM, err := parseClock(campaign.SendingEnd)
	if err != nil {
		return time.Time{}, err
	}

	days := allowedDays(campaign.SendingDays)
	if len(days) == 0 {
		return time.Time{}, fmt.Errorf("campaign %s has no sending days", campaign.ID)
	}

	// A window belongs to the day it opens on. The scan starts at the
	// previous day so an overnight window still covering now is found.
	local := now.In(loc)
	for i := -1; i < 8; i++ {
		day := local.AddDate(0, 0, i)
		if !days[day.Weekday()] {
			continue
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), startH, startM, 0, 0, loc)
		end := time.Date(day.Year(), day.Month(), day.Day(), endH, endM, 0, 0, loc)
		if !end.After(start) {
			// The window crosses midnight and closes the next day.
			end = end.AddDate(0, 0, 1)
		}
		if !local.Before(start) && local.Before(end) {
			return now, nil
		}
		if start.After(local) {
			return start, nil
		}
	}
	return time.Time{}, fmt.Errorf("campaign %s has no upcoming send window", campaign.ID)
}

// InSendWindow reports whether now is inside the sending window.
func InSendWindow(campaign *store.Campaign, now time.Time) (bool, error) {
	next, err := NextSendTime(campaign, now)
	if err != nil {
		return false, err
	}
	return next.Equal(now), nil
}
