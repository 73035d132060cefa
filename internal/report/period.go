package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is a calendar bucketing frequency. Buckets are labeled by their
// last day: weeks end on Sunday, months and quarters on their last day.
type Period string

const (
	Daily     Period = "D"
	Weekly    Period = "W"
	Monthly   Period = "M"
	Quarterly Period = "Q"
)

// ParsePeriod accepts D, W, M or Q (and the ME/QE aliases).
func ParsePeriod(s string) (Period, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "D":
		return Daily, nil
	case "W":
		return Weekly, nil
	case "M", "ME":
		return Monthly, nil
	case "Q", "QE":
		return Quarterly, nil
	}
	return "", fmt.Errorf("unknown period %q (want D, W, M or Q)", s)
}

func (p Period) Name() string {
	switch p {
	case Daily:
		return "day"
	case Weekly:
		return "week"
	case Monthly:
		return "month"
	case Quarterly:
		return "quarter"
	}
	return string(p)
}

// End returns the last day of the bucket containing t, at midnight UTC.
func (p Period) End(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case Weekly:
		return d.AddDate(0, 0, (7-int(d.Weekday()))%7)
	case Monthly:
		return time.Date(d.Year(), d.Month()+1, 0, 0, 0, 0, 0, time.UTC)
	case Quarterly:
		qEnd := ((int(d.Month())-1)/3 + 1) * 3
		return time.Date(d.Year(), time.Month(qEnd)+1, 0, 0, 0, 0, 0, time.UTC)
	}
	return d
}

// Next returns the end of the bucket after the one ending at end.
func (p Period) Next(end time.Time) time.Time {
	return p.End(end.AddDate(0, 0, 1))
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02",
}

// ParseDate reads the date column. Unix epoch seconds are accepted as well.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Unix(int64(f), 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
