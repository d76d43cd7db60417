package pretty

import (
	"fmt"
	"strings"
	"time"
)

// SinceString returns a string representation of the time elapsed since t.
func SinceString(t time.Time) string {
	return DurationString(time.Since(t))
}

// DurationString renders d for humans. Sub-second durations keep millisecond
// precision, longer ones are rounded to the second and split into years and
// days past 24h.
func DurationString(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)

	day := time.Hour * 24
	if d < day {
		return d.String()
	}

	var b strings.Builder

	year := day * 365
	if d >= year {
		years := d / year
		fmt.Fprintf(&b, "%dy", years)
		d -= years * year
	}

	days := d / day
	d -= days * day
	fmt.Fprintf(&b, "%dd%s", days, d)

	return b.String()
}
