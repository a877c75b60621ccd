package model

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, filename string) Key {
	t.Helper()
	k, err := ParseKey(filename)
	require.NoError(t, err)
	return k
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantDate    string
		wantCounter *int
	}{
		{name: "date only", filename: "20250521-make-bananas.sql", wantDate: "20250521"},
		{name: "counter", filename: "20260810-2-do-all-the-things.sql", wantDate: "20260810", wantCounter: intPtr(2)},
		{name: "multi digit counter", filename: "20261203-13-later.py", wantDate: "20261203", wantCounter: intPtr(13)},
		{name: "word after date", filename: "20260810-last-timestamp", wantDate: "20260810"},
		{name: "digits without trailing dash", filename: "20260810-123.sql", wantDate: "20260810"},
		{name: "mixed digits and letters", filename: "20260810-1a-thing.sql", wantDate: "20260810"},
		{name: "bare date", filename: "20260810", wantDate: "20260810"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ParseKey(tt.filename)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDate, k.Date.Format(DateLayout))
			if tt.wantCounter == nil {
				assert.Nil(t, k.Counter)
			} else {
				require.NotNil(t, k.Counter)
				assert.Equal(t, *tt.wantCounter, *k.Counter)
			}
		})
	}
}

func TestParseKey_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		filename string
	}{
		{name: "too short", filename: "2026"},
		{name: "no date", filename: "why-am-i-here.rb"},
		{name: "impossible month", filename: "20261301-thing.sql"},
		{name: "impossible day", filename: "20250230-thing.sql"},
		{name: "empty", filename: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKey(tt.filename)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat))

			var formatErr *FormatError
			require.True(t, errors.As(err, &formatErr))
			assert.Equal(t, tt.filename, formatErr.Filename)
		})
	}
}

func TestKey_RoundTrip(t *testing.T) {
	for _, prefix := range []string{"20250521", "20260810-1", "20260810-2", "20271202-10", "20000101-0"} {
		k := mustKey(t, prefix+"-name.sql")
		assert.Equal(t, prefix, k.String())

		again := mustKey(t, k.String()+"-name.sql")
		assert.True(t, k.Equal(again))
	}
}

func TestKey_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{name: "earlier date", a: "20260809-x.sql", b: "20260810-x.sql", want: -1},
		{name: "later date beats counter", a: "20260811-x.sql", b: "20260810-9-x.sql", want: 1},
		{name: "no counter before counter", a: "20260810-x.sql", b: "20260810-1-x.sql", want: -1},
		{name: "no counter before counter zero", a: "20260810-x.sql", b: "20260810-0-x.sql", want: -1},
		{name: "counters numeric", a: "20260810-2-x.sql", b: "20260810-10-x.sql", want: -1},
		{name: "equal counters", a: "20260810-3-a.sql", b: "20260810-3-b.py", want: 0},
		{name: "equal dates", a: "20260810-a.sql", b: "20260810-b.py", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := mustKey(t, tt.a), mustKey(t, tt.b)
			assert.Equal(t, tt.want, a.Compare(b))
			assert.Equal(t, -tt.want, b.Compare(a))
		})
	}
}

func TestKey_TotalOrder(t *testing.T) {
	names := []string{
		"20271202-1-more-future.sql",
		"20260810-do-a-thing.sql",
		"20260810-10-ten.sql",
		"20260810-2-two.sql",
		"20260809-already-done.sql",
		"20271202-future.sql",
	}
	keys := make([]Key, len(names))
	for i, n := range names {
		keys[i] = mustKey(t, n)
	}
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	got := make([]string, len(keys))
	for i, k := range keys {
		got[i] = k.String()
	}
	assert.Equal(t, []string{"20260809", "20260810", "20260810-2", "20260810-10", "20271202", "20271202-1"}, got)
}

func TestWatermark_Admits(t *testing.T) {
	date := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	wm := NewWatermark("core", NewKey(date).WithCounter(1))

	assert.False(t, wm.Admits(mustKey(t, "20260810-x.sql")))
	assert.False(t, wm.Admits(mustKey(t, "20260810-1-x.sql")))
	assert.True(t, wm.Admits(mustKey(t, "20260810-2-x.sql")))
	assert.True(t, wm.Admits(mustKey(t, "20260811-x.sql")))
	assert.False(t, wm.Admits(mustKey(t, "20260809-9-x.sql")))
}

func TestWatermark_MoveTo(t *testing.T) {
	wm := NewWatermark("core", NewKey(time.Date(2026, 10, 30, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, wm.Counter)

	wm.MoveTo(mustKey(t, "20261203-3-counter.sql"))
	assert.Equal(t, "20261203", wm.Timestamp.Format(DateLayout))
	require.NotNil(t, wm.Counter)
	assert.Equal(t, 3, *wm.Counter)

	wm.MoveTo(mustKey(t, "20271202-future.sql"))
	assert.Equal(t, "20271202", wm.Timestamp.Format(DateLayout))
	assert.Nil(t, wm.Counter)
}

func TestNewMigrationFile(t *testing.T) {
	src := Source{Name: "core", Path: "/migrations", Priority: 0}

	sqlFile, err := NewMigrationFile("20250521-make-bananas.sql", src)
	require.NoError(t, err)
	assert.Equal(t, KindSQL, sqlFile.Kind)
	assert.True(t, sqlFile.IsSQL())
	assert.Equal(t, "core", sqlFile.Source.Name)

	script, err := NewMigrationFile("20260810-do-a-thing.py", src)
	require.NoError(t, err)
	assert.Equal(t, KindScript, script.Kind)
	assert.Equal(t, ".py", script.Ext())

	_, err = NewMigrationFile("not-a-migration.sql", src)
	assert.ErrorIs(t, err, ErrFormat)
}

func intPtr(n int) *int { return &n }
