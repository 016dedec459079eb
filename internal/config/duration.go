package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ParseDuration parses compact duration literals like "30s", "6h", "1w" or
// "1y". Units: s, m, h, d, w and y, with a year counted as 365 days.
// time.ParseDuration is not used because the config format predates this
// implementation and includes d/w/y.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("duration string cannot be empty")
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration format: %s", s)
	}

	unit := s[len(s)-1]
	value, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", s[:len(s)-1])
	}

	var base time.Duration
	switch unit {
	case 's':
		base = time.Second
	case 'm':
		base = time.Minute
	case 'h':
		base = time.Hour
	case 'd':
		base = 24 * time.Hour
	case 'w':
		base = 7 * 24 * time.Hour
	case 'y':
		base = 365 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid duration unit %q (use s, m, h, d, w or y)", unit)
	}
	return time.Duration(value) * base, nil
}
