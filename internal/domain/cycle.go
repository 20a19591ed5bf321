package domain

import (
	"fmt"
	"time"
)

// Cycle identifies one forecast model run by its UTC initialization time.
// The time is always truncated to a whole synoptic hour.
type Cycle struct {
	Init time.Time
}

// CycleFor returns the latest cycle whose hour does not exceed t's hour on
// t's UTC day. cycleHours must be ascending and include 0, so a candidate
// always exists.
func CycleFor(t time.Time, cycleHours []int) Cycle {
	t = t.UTC()
	hour := 0
	for _, h := range cycleHours {
		if h <= t.Hour() {
			hour = h
		}
	}
	init := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, time.UTC)
	return Cycle{Init: init}
}

// DateString returns the upstream day-directory date component, e.g. "20260823".
func (c Cycle) DateString() string {
	return c.Init.UTC().Format("20060102")
}

// HourString returns the zero-padded cycle hour, e.g. "06".
func (c Cycle) HourString() string {
	return fmt.Sprintf("%02d", c.Init.UTC().Hour())
}

// ValidTime returns the forecast valid time for a lead of forecastHour hours.
func (c Cycle) ValidTime(forecastHour int) time.Time {
	return c.Init.Add(time.Duration(forecastHour) * time.Hour)
}

// String renders the cycle the way operators read it, e.g. "20260823 06Z".
func (c Cycle) String() string {
	return c.DateString() + " " + c.HourString() + "Z"
}
