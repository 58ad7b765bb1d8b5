package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseClock parses a wall-clock "HH:mm" string into its hour and minute
// components. Hours run 0..23 and minutes 0..59.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("clock %q: want HH:mm", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("clock %q: bad hour: %w", s, err)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("clock %q: bad minute: %w", s, err)
	}
	if hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("clock %q: hour out of range", s)
	}
	if minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock %q: minute out of range", s)
	}
	return hour, minute, nil
}
