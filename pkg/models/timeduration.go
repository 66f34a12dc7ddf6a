package models

import (
	"fmt"
	"time"
)

// TimeDuration wraps time.Duration so config files and API payloads carry
// durations as strings ("30s", "2h45m") instead of nanosecond integers.
type TimeDuration time.Duration

func (td TimeDuration) Duration() time.Duration {
	return time.Duration(td)
}

func (td TimeDuration) String() string {
	return time.Duration(td).String()
}

func (td TimeDuration) MarshalText() ([]byte, error) {
	return []byte(td.String()), nil
}

func (td *TimeDuration) UnmarshalText(data []byte) error {
	parsed, err := time.ParseDuration(string(data))
	if err != nil {
		return fmt.Errorf("not a valid duration: %w", err)
	}

	*td = TimeDuration(parsed)
	return nil
}

func (td TimeDuration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + td.String() + `"`), nil
}

func (td *TimeDuration) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("duration must be a quoted string")
	}

	return td.UnmarshalText(data[1 : len(data)-1])
}
