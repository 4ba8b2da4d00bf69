package payload

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// ParseTime converts a raw payload value to a time. Strings are tried against
// the known layouts; numbers are treated as epoch milliseconds. Anything else,
// including unparseable strings, reports false.
func ParseTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC(), true
		}
	case json.Number:
		if ms, err := t.Int64(); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC(), true
		}
	case float64:
		if t > 0 {
			return time.UnixMilli(int64(t)).UTC(), true
		}
	case time.Time:
		return t, !t.IsZero()
	}
	return time.Time{}, false
}

// Time resolves a named field and parses it as a timestamp.
func (f *Fields) Time(p Payload, name string) (time.Time, bool) {
	v, ok := f.Lookup(p, name)
	if !ok {
		return time.Time{}, false
	}
	return ParseTime(v)
}
