// window.go -- window string parsing.
package ratelimit

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrInvalidWindow is returned for a window that is neither whole seconds nor <int><s|m|h|d>.
var ErrInvalidWindow = errors.New("invalid window")

var windowPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var windowUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// ParseWindow converts "90", "30s", "5m", "1h" or "1d" into a duration.
// Zero windows are rejected.
func ParseWindow(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
		}
		return time.Duration(n) * time.Second, nil
	}

	m := windowPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	return time.Duration(n) * windowUnits[m[2]], nil
}
