package config

import (
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

var durationPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseDuration parses a configured lifetime such as "15m" or "7d".
// Only a positive integer followed by one of s, m, h or d is accepted.
func ParseDuration(value string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(value)
	if m == nil {
		return 0, errors.Errorf("invalid duration %q: expected <number><s|m|h|d>", value)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", value)
	}
	if n <= 0 {
		return 0, errors.Errorf("invalid duration %q: must be positive", value)
	}

	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}

	if n > int64(1<<62)/int64(unit) {
		return 0, errors.Errorf("invalid duration %q: too large", value)
	}

	return time.Duration(n) * unit, nil
}
