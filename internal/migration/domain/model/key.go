package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the date prefix format of migration filenames
const DateLayout = "20060102"

// Key is the sort key of a migration: the date from its filename and the
// optional same-day counter that follows it.
type Key struct {
	Date    time.Time
	Counter *int
}

// NewKey builds a key for date with no counter
func NewKey(date time.Time) Key {
	y, m, d := date.Date()
	return Key{Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// WithCounter returns a copy of k carrying counter n
func (k Key) WithCounter(n int) Key {
	k.Counter = &n
	return k
}

// HasCounter reports whether k carries a same-day counter
func (k Key) HasCounter() bool {
	return k.Counter != nil
}

// Compare returns -1, 0 or 1. Dates compare first; on the same date a key
// without a counter sorts before any key with one.
func (k Key) Compare(other Key) int {
	kd, od := NewKey(k.Date).Date, NewKey(other.Date).Date
	switch {
	case kd.Before(od):
		return -1
	case kd.After(od):
		return 1
	}

	switch {
	case k.Counter == nil && other.Counter == nil:
		return 0
	case k.Counter == nil:
		return -1
	case other.Counter == nil:
		return 1
	case *k.Counter < *other.Counter:
		return -1
	case *k.Counter > *other.Counter:
		return 1
	}
	return 0
}

// Less reports whether k sorts before other
func (k Key) Less(other Key) bool {
	return k.Compare(other) < 0
}

// After reports whether k sorts strictly after other
func (k Key) After(other Key) bool {
	return k.Compare(other) > 0
}

// Equal reports whether both keys name the same position
func (k Key) Equal(other Key) bool {
	return k.Compare(other) == 0
}

// String renders the key in filename prefix form, YYYYMMDD or YYYYMMDD-N
func (k Key) String() string {
	s := k.Date.Format(DateLayout)
	if k.Counter != nil {
		s += "-" + strconv.Itoa(*k.Counter)
	}
	return s
}

// ParseKey extracts the key from a migration filename. The first eight
// characters must be a valid YYYYMMDD date; when they are followed by a dash
// and a run of digits ending at the next dash, those digits are the counter.
func ParseKey(filename string) (Key, error) {
	if len(filename) < 8 {
		return Key{}, &FormatError{Filename: filename, Reason: "name shorter than a date prefix"}
	}
	prefix := filename[:8]
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return Key{}, &FormatError{Filename: filename, Reason: "name does not start with YYYYMMDD"}
		}
	}
	date, err := time.ParseInLocation(DateLayout, prefix, time.UTC)
	if err != nil {
		return Key{}, &FormatError{Filename: filename, Reason: fmt.Sprintf("invalid date %q", prefix)}
	}
	key := Key{Date: date}

	rest := filename[8:]
	if !strings.HasPrefix(rest, "-") {
		return key, nil
	}
	rest = rest[1:]
	end := strings.IndexByte(rest, '-')
	if end <= 0 {
		return key, nil
	}
	digits := rest[:end]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return key, nil
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return Key{}, &FormatError{Filename: filename, Reason: fmt.Sprintf("counter %q out of range", digits)}
	}
	return key.WithCounter(n), nil
}
