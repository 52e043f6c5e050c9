package config

import (
	"fmt"
	"time"
)

// dateLayouts covers the W3C datetime profile of ISO 8601, most specific
// first. Zone-less layouts are interpreted as UTC; offsets are fixed (no
// daylight-saving adjustment is ever applied).
var dateLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseDate parses a W3C-DTF date/time string, e.g.
//
//	2000
//	2000-02
//	2000-02-12
//	2000-02-12T06:05+05:30
//	2000-02-12T06:05:30Z
//	2000-02-12T06:05:30.45-04:00
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
