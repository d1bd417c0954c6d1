// Package timestamp converts the timestamp encodings found in feed documents
// into epoch milliseconds.
//
// Every raw value is first decoded into one variant of the closed Value union
// and then normalized by pattern matching on that variant. Normalization never
// fails: anything absent or unparseable becomes 0, which sinks the item to the
// bottom of a newest-first list.
package timestamp

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Value is a decoded timestamp encoding. The set of implementations is closed.
type Value interface {
	isValue()
}

// Absent is a missing or null timestamp.
type Absent struct{}

// Epoch is a numeric epoch in milliseconds.
type Epoch struct {
	Millis float64
}

// ISOString is a string that parsed as an ISO-8601 / RFC date.
type ISOString struct {
	Raw  string
	Time time.Time
}

// LocalePattern is a DD/MM/YYYY[ HH:MM[:SS]] string, always read as UTC.
type LocalePattern struct {
	Raw                  string
	Day, Month, Year     int
	Hour, Minute, Second int
}

// SecondsNanos is a {seconds, nanoseconds} pair as produced by document stores.
type SecondsNanos struct {
	Seconds     float64
	Nanoseconds float64
}

// Convertible wraps an object that knows how to convert itself to a time.
type Convertible struct {
	Converter Converter
}

// Invalid is anything that could not be classified.
type Invalid struct {
	Raw any
}

func (Absent) isValue() {}
func (Epoch) isValue() {}
func (ISOString) isValue() {}
func (LocalePattern) isValue() {}
func (SecondsNanos) isValue() {}
func (Convertible) isValue() {}
func (Invalid) isValue() {}

// Converter is implemented by timestamp objects exposing a zero argument
// conversion to a time value.
type Converter interface {
	ToTime() time.Time
}

type timeConverter time.Time

func (t timeConverter) ToTime() time.Time { return time.Time(t) }

var (
	unitSuffix    = regexp.MustCompile(`(?i)\s?(hs|hrs)$`)
	localePattern = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})(?:[ T](\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)

	// Zone-less layouts are parsed as UTC.
	isoLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04Z07:00",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02",
		"2006-01",
		"2006",
		time.RFC1123Z,
		time.RFC1123,
	}
)

// Millis decodes and normalizes raw in one step.
func Millis(raw any) int64 {
	return Normalize(Decode(raw))
}

// Decode classifies a raw value into a Value variant.
func Decode(raw any) Value {
	if f, ok := number(raw); ok {
		return Epoch{Millis: f}
	}
	switch v := raw.(type) {
	case nil:
		return Absent{}
	case Value:
		return v
	case string:
		return decodeString(v)
	case time.Time:
		return Convertible{Converter: timeConverter(v)}
	case *time.Time:
		if v == nil {
			return Absent{}
		}
		return Convertible{Converter: timeConverter(*v)}
	case Converter:
		return Convertible{Converter: v}
	case map[string]any:
		return decodeMap(v)
	}
	return Invalid{Raw: raw}
}

// Normalize converts a decoded value into non-negative epoch milliseconds,
// 0 meaning absent or unparseable.
func Normalize(v Value) int64 {
	switch t := v.(type) {
	case Epoch:
		return clamp(t.Millis)
	case ISOString:
		return clampInt(t.Time.UnixMilli())
	case LocalePattern:
		return localeMillis(t)
	case SecondsNanos:
		return clamp(t.Seconds*1000 + t.Nanoseconds/1e6)
	case Convertible:
		if t.Converter == nil {
			return 0
		}
		return convertMillis(t.Converter)
	}
	return 0
}

func decodeString(raw string) Value {
	trimmed := unitSuffix.ReplaceAllString(strings.TrimSpace(raw), "")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return Invalid{Raw: raw}
	}

	for _, layout := range isoLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return ISOString{Raw: raw, Time: parsed}
		}
	}

	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Epoch{Millis: n}
	}

	if m := localePattern.FindStringSubmatch(trimmed); m != nil {
		lp := LocalePattern{Raw: raw}
		lp.Day = atoi(m[1])
		lp.Month = atoi(m[2])
		lp.Year = atoi(m[3])
		if len(m[3]) == 2 {
			lp.Year += 2000
		}
		lp.Hour = atoi(m[4])
		lp.Minute = atoi(m[5])
		lp.Second = atoi(m[6])
		return lp
	}

	return Invalid{Raw: raw}
}

func decodeMap(m map[string]any) Value {
	for _, keys := range [][2]string{{"seconds", "nanoseconds"}, {"_seconds", "_nanoseconds"}} {
		secs, okSecs := number(m[keys[0]])
		nanos, okNanos := number(m[keys[1]])
		if okSecs && okNanos {
			return SecondsNanos{Seconds: secs, Nanoseconds: nanos}
		}
	}
	return Invalid{Raw: m}
}

func localeMillis(lp LocalePattern) int64 {
	if lp.Month < 1 || lp.Month > 12 || lp.Day < 1 || lp.Day > 31 ||
		lp.Hour > 23 || lp.Minute > 59 || lp.Second > 59 {
		return 0
	}
	t := time.Date(lp.Year, time.Month(lp.Month), lp.Day, lp.Hour, lp.Minute, lp.Second, 0, time.UTC)
	// 31/02 would silently roll over into March.
	if t.Day() != lp.Day {
		return 0
	}
	return clampInt(t.UnixMilli())
}

func convertMillis(c Converter) (millis int64) {
	defer func() {
		if recover() != nil {
			millis = 0
		}
	}()
	t := c.ToTime()
	if t.IsZero() {
		return 0
	}
	return clampInt(t.UnixMilli())
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uintptr:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func clamp(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 || f >= math.MaxInt64 {
		return 0
	}
	return int64(math.Trunc(f))
}

func clampInt(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
