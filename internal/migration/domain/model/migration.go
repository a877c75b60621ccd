// Package model defines migration domain models
package model

import (
	"path"
	"strings"
	"time"
)

// Kind tells the executor how to apply a migration
type Kind string

const (
	KindSQL    Kind = "sql"
	KindScript Kind = "script"
)

// Source is one directory of migrations. Name is the service name its
// watermark is stored under; Priority is its position in the configured
// list, 0 being the highest.
type Source struct {
	Name     string
	Path     string
	Priority int
}

// MigrationFile is a discovered migration
type MigrationFile struct {
	Filename string
	Key      Key
	Kind     Kind
	Source   Source
}

// NewMigrationFile parses filename into a migration belonging to src
func NewMigrationFile(filename string, src Source) (*MigrationFile, error) {
	key, err := ParseKey(filename)
	if err != nil {
		return nil, err
	}
	kind := KindScript
	if strings.EqualFold(path.Ext(filename), ".sql") {
		kind = KindSQL
	}
	return &MigrationFile{
		Filename: filename,
		Key:      key,
		Kind:     kind,
		Source:   src,
	}, nil
}

// Ext returns the filename extension including the dot
func (m *MigrationFile) Ext() string {
	return path.Ext(m.Filename)
}

// IsSQL returns true if the migration is applied as a SQL batch
func (m *MigrationFile) IsSQL() bool {
	return m.Kind == KindSQL
}

// Watermark is the persisted progress marker of one source: the key of the
// most recent migration applied from it.
type Watermark struct {
	Service   string
	Timestamp time.Time
	Counter   *int
	UpdatedAt time.Time
}

// NewWatermark creates a watermark for service positioned at key
func NewWatermark(service string, key Key) *Watermark {
	wm := &Watermark{Service: service}
	wm.MoveTo(key)
	return wm
}

// Key returns the watermark position as a sort key
func (w *Watermark) Key() Key {
	k := NewKey(w.Timestamp)
	if w.Counter != nil {
		k = k.WithCounter(*w.Counter)
	}
	return k
}

// MoveTo sets the watermark position to key. The counter is cleared when key
// has none.
func (w *Watermark) MoveTo(key Key) {
	w.Timestamp = NewKey(key.Date).Date
	w.Counter = nil
	if key.Counter != nil {
		n := *key.Counter
		w.Counter = &n
	}
	w.UpdatedAt = time.Now().UTC()
}

// Admits reports whether a migration at key has not been applied yet
func (w *Watermark) Admits(key Key) bool {
	return key.After(w.Key())
}

// MigrationStatus represents migration status
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
	MigrationStatusFailed  MigrationStatus = "failed"
)

// MigrationResult represents migration execution result
type MigrationResult struct {
	Source     string
	Filename   string
	Key        Key
	Kind       Kind
	Status     MigrationStatus
	DurationMs int64
	Error      string
}
