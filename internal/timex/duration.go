// Package timex provides a time.Duration wrapper that can be decoded from
// JSON configuration files.
package timex

import (
	"encoding/json"
	"errors"
	"time"
)

// Duration accepts either a Go duration string ("5m", "30s") or a number of
// nanoseconds when unmarshalled from JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return errors.New("invalid duration")
	}
}
