package batch

import (
	"fmt"
	"time"

	"github.com/itchyny/timefmt-go"
)

const defaultTimezone = "America/New_York"

// autoFormats are tried in order when a date column declares no
// input_format.
var autoFormats = []string{
	"%Y-%m-%d",
	"%m/%d/%Y",
	"%m/%d/%y",
	"%b %d, %Y",
	"%B %d, %Y",
	"%Y-%m-%dT%H:%M:%S",
	"%Y-%m-%d %H:%M:%S",
}

// convertDate normalizes a date cell to ISO-8601 with a timezone offset,
// e.g. "11/23/2025" -> "2025-11-23T00:00:00-05:00". The timestamp is
// interpreted as wall time in the configured zone.
func convertDate(value string, spec ColumnType) (string, error) {
	if value == "" {
		return value, nil
	}

	var parsed time.Time
	var err error
	if spec.InputFormat != "" {
		parsed, err = timefmt.Parse(value, spec.InputFormat)
		if err != nil {
			return "", err
		}
	} else {
		found := false
		for _, format := range autoFormats {
			if parsed, err = timefmt.Parse(value, format); err == nil {
				found = true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("no known date format matches %q", value)
		}
	}

	zone := spec.Timezone
	if zone == "" {
		zone = defaultTimezone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return "", fmt.Errorf("timezone %q: %w", zone, err)
	}

	localized := time.Date(parsed.Year(), parsed.Month(), parsed.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), 0, loc)
	return localized.Format("2006-01-02T15:04:05-07:00"), nil
}
