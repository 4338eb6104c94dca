// Package earnings blocks signals near a symbol's upcoming earnings
// report. Grounded on engine/earnings_calendar.py: a local JSON map of
// symbol -> earnings dates, with a configurable blocking window (default
// 5 days).
package earnings

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultWindowDays is the default earnings-proximity blocking window.
const DefaultWindowDays = 5

// Calendar holds the loaded symbol -> earnings-date map.
type Calendar struct {
	dates map[string][]time.Time
	log   zerolog.Logger
}

// Load reads the earnings calendar JSON file (symbol -> []"YYYY-MM-DD").
// A missing or invalid file yields an empty calendar rather than an error,
// matching the original's "no calendar configured" fallback.
func Load(path string, log zerolog.Logger) *Calendar {
	c := &Calendar{dates: map[string][]time.Time{}, log: log.With().Str("component", "earnings").Logger()}

	raw, err := os.ReadFile(path)
	if err != nil {
		c.log.Debug().Str("path", path).Msg("earnings calendar not found, treating as empty")
		return c
	}

	var data map[string][]string
	if err := json.Unmarshal(raw, &data); err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("invalid earnings calendar file")
		return c
	}

	for symbol, dateStrs := range data {
		var parsed []time.Time
		for _, ds := range dateStrs {
			t, err := time.Parse("2006-01-02", ds)
			if err != nil {
				continue
			}
			parsed = append(parsed, t)
		}
		c.dates[strings.ToUpper(symbol)] = parsed
	}
	return c
}

// IsEarningsImminent reports whether symbol has an earnings date within
// windowDays of reference (inclusive, non-negative only - a past earnings
// date does not block).
func (c *Calendar) IsEarningsImminent(symbol string, windowDays int, reference time.Time) bool {
	dates := c.dates[strings.ToUpper(symbol)]
	if len(dates) == 0 {
		return false
	}
	refDate := reference.Truncate(24 * time.Hour)
	for _, d := range dates {
		daysUntil := int(d.Sub(refDate).Hours() / 24)
		if daysUntil >= 0 && daysUntil <= windowDays {
			return true
		}
	}
	return false
}
