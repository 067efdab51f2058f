package message

import (
	"time"
	_ "time/tzdata" // devices often lack zoneinfo

	"github.com/temoto/meshrelay/log2"
)

const (
	TimestampLayout = "2006-01-02T15:04:05.000000"
	TimeLayout      = "15:04:05"
	DateLayout      = "02/01/2006"

	unsyncedTimestamp = "2024-01-01T12:00:00.000000"
	unsyncedTime      = "12:00:00"
	unsyncedDate      = "01/01/2024"
)

// WallClock is external time sync collaborator.
type WallClock interface {
	Now() time.Time
	Synced() bool
}

// SystemClock trusts system time once it is past 2023-11-14.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
func (SystemClock) Synced() bool   { return time.Now().Unix() > 1700000000 }

// Clock provides message timestamps in configured time zone.
type Clock struct {
	wall WallClock
	loc  *time.Location
}

// NewClock with invalid zone logs error and uses UTC.
func NewClock(wall WallClock, zone string, log *log2.Log) *Clock {
	c := &Clock{wall: wall, loc: time.UTC}
	if zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			log.Errorf("timezone=%q invalid, using UTC err=%v", zone, err)
		} else {
			c.loc = loc
		}
	}
	return c
}

func (c *Clock) Location() *time.Location { return c.loc }

// Now returns zero time while wall clock is not synchronized.
func (c *Clock) Now() time.Time {
	if !c.wall.Synced() {
		return time.Time{}
	}
	return c.wall.Now().In(c.loc)
}

// WallNow is wall time even when not synchronized.
func (c *Clock) WallNow() time.Time { return c.wall.Now() }

func (c *Clock) Synced() bool { return c.wall.Synced() }

func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return unsyncedTimestamp
	}
	return t.Format(TimestampLayout)
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return unsyncedTime
	}
	return t.Format(TimeLayout)
}

func FormatDate(t time.Time) string {
	if t.IsZero() {
		return unsyncedDate
	}
	return t.Format(DateLayout)
}
