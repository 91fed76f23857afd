// Package timeutil resolves the time zones used to bucket points by calendar day.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// AlmatyTZ is the Almaty timezone (UTC+5, no DST). Available even when the
// host has no tzdata.
var AlmatyTZ = time.FixedZone("Asia/Almaty", 5*60*60)

// ParseLocation resolves an IANA zone name ("Europe/Berlin") or a fixed
// offset ("+05:00", "-0330"). An empty name or "UTC" is UTC.
func ParseLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "", strings.EqualFold(name, "UTC"), name == "Z":
		return time.UTC, nil
	case name == AlmatyTZ.String():
		return AlmatyTZ, nil
	case name[0] == '+' || name[0] == '-':
		return parseOffset(name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown time zone %q", name)
	}
	return loc, nil
}

func parseOffset(s string) (*time.Location, error) {
	for _, layout := range []string{"-07:00", "-0700", "-07"} {
		if t, err := time.Parse(layout, s); err == nil {
			_, offset := t.Zone()
			return time.FixedZone("UTC"+s, offset), nil
		}
	}
	return nil, fmt.Errorf("timeutil: invalid UTC offset %q", s)
}
