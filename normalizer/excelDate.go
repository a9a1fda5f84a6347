package normalizer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// TimestampLayout matches what the tabular import writes for every purchase.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// string dates are read day-first, as the retailer exports them
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02/01/06",
	"02-01-2006",
	"2-1-2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)

// ParseDateCell reads a date cell as a native time, an Excel serial day
// number, or a date string. A string that matches no layout is retried as a
// serial. The result is midnight of that day in loc.
func ParseDateCell(v any, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return time.Time{}, false
		}
		return dayIn(val, loc), true
	case float64:
		return serialToDate(val, loc)
	case int:
		return serialToDate(float64(val), loc)
	case int64:
		return serialToDate(float64(val), loc)
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return dayIn(t, loc), true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return serialToDate(f, loc)
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// ParseTimeCell reads a time-of-day cell as an Excel day fraction, a native
// time, or an "HH:MM[:SS]" string, returning the offset from midnight.
func ParseTimeCell(v any) (time.Duration, bool) {
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return 0, false
		}
		return time.Duration(val.Hour())*time.Hour +
			time.Duration(val.Minute())*time.Minute +
			time.Duration(val.Second())*time.Second, true
	case float64:
		return fractionToDuration(val)
	case int:
		return 0, true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		if m := clockPattern.FindStringSubmatch(s); m != nil {
			h, _ := strconv.Atoi(m[1])
			mi, _ := strconv.Atoi(m[2])
			sec := 0
			if m[3] != "" {
				sec, _ = strconv.Atoi(m[3])
			}
			if h > 23 || mi > 59 || sec > 59 {
				return 0, false
			}
			return time.Duration(h)*time.Hour + time.Duration(mi)*time.Minute + time.Duration(sec)*time.Second, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fractionToDuration(f)
		}
		return 0, false
	default:
		return 0, false
	}
}

// CombineDateTime puts the time-of-day offset onto day and formats the
// result as a UTC ISO timestamp.
func CombineDateTime(day time.Time, offset time.Duration) string {
	secs := int(offset / time.Second)
	t := time.Date(day.Year(), day.Month(), day.Day(), secs/3600, (secs%3600)/60, secs%60, 0, day.Location())
	return t.UTC().Format(TimestampLayout)
}

func serialToDate(serial float64, loc *time.Location) (time.Time, bool) {
	if serial <= 0 || math.IsNaN(serial) || math.IsInf(serial, 0) {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), true
}

func fractionToDuration(f float64) (time.Duration, bool) {
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	frac := f - math.Floor(f)
	secs := int(math.Round(frac * 86400))
	if secs >= 86400 {
		secs = 86399
	}
	return time.Duration(secs) * time.Second, true
}

func dayIn(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
