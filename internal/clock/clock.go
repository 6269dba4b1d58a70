// Package clock centralizes time and id formatting so that no other layer
// formats timestamps ad hoc (spec §9 "Time units").
package clock

import (
	"time"

	"github.com/google/uuid"
)

// NowMillis returns the current wall-clock time as Unix milliseconds, the
// wire/storage format used everywhere in this module.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// MillisToTime converts Unix milliseconds back into a time.Time in UTC.
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ISO8601 renders Unix milliseconds as a human-facing ISO-8601 UTC string.
func ISO8601(ms int64) string {
	return MillisToTime(ms).Format(time.RFC3339Nano)
}

// NewID returns a fresh UUIDv4 string, used for every entity id, correlation
// id, and connection id in the engine.
func NewID() string {
	return uuid.New().String()
}
