package signing

import (
	"fmt"
	"time"
)

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing poll interval %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("poll interval must be positive: %s", s)
	}
	return d, nil
}
