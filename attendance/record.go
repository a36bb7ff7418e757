package attendance

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Status is the access outcome of an attendance record. It is a closed
// two-value enumeration derived from the server's numeric AccessResult
// code: 1 means granted, anything else means denied.
type Status string

const (
	StatusGranted Status = "ACCESS_GRANTED"
	StatusDenied  Status = "ACCESS_DENIED"
)

// Record is a single attendance event as displayed to the user.
type Record struct {
	ID           int64
	Timestamp    time.Time
	Temperature  *float64 // nil when the machine reported none
	EmployeeID   string
	EmployeeName string
	MachineName  string
	Status       Status
}

// Result is a page of attendance records plus the server-side total.
type Result struct {
	Records    []Record
	TotalCount int
}

var netDatePattern = regexp.MustCompile(`/Date\((-?\d+)\)/`)

// ParseNetDate parses the legacy .NET JSON date encoding /Date(ms)/ into a
// time.Time.
func ParseNetDate(s string) (time.Time, error) {
	m := netDatePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("not a .NET date: %q", s)
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing .NET date %q: %w", s, err)
	}
	return time.UnixMilli(ms), nil
}

// statusFromAccessResult maps the raw AccessResult JSON value to a Status.
// The server emits it as a number in current builds and as a string in
// older ones.
func statusFromAccessResult(v any) Status {
	switch code := v.(type) {
	case float64:
		if code == 1 {
			return StatusGranted
		}
	case string:
		if code == "1" {
			return StatusGranted
		}
	}
	return StatusDenied
}

// temperatureValue coerces the raw Temperature JSON value, which arrives as
// a number, a numeric string, or null.
func temperatureValue(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return &f
		}
	}
	return nil
}
