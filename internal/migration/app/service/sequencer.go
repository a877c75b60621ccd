package service

import (
	"sort"

	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/model"
)

type keyedName struct {
	name string
	key  model.Key
}

func parseAll(filenames []string) ([]keyedName, error) {
	keyed := make([]keyedName, 0, len(filenames))
	for _, name := range filenames {
		key, err := model.ParseKey(name)
		if err != nil {
			return nil, err
		}
		keyed = append(keyed, keyedName{name: name, key: key})
	}
	return keyed, nil
}

// SortMigrations orders filenames by key, keeping input order for equal keys
func SortMigrations(filenames []string) ([]string, error) {
	keyed, err := parseAll(filenames)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(keyed, func(i, j int) bool {
		return keyed[i].key.Less(keyed[j].key)
	})

	out := make([]string, len(keyed))
	for i, k := range keyed {
		out[i] = k.name
	}
	return out, nil
}

// NewMigrations returns the filenames that sort strictly after the watermark,
// in ascending order. Any name that does not parse fails the whole call.
func NewMigrations(wm *model.Watermark, filenames []string) ([]string, error) {
	keyed, err := parseAll(filenames)
	if err != nil {
		return nil, err
	}

	pending := keyed[:0]
	for _, k := range keyed {
		if wm.Admits(k.key) {
			pending = append(pending, k)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].key.Less(pending[j].key)
	})

	out := make([]string, len(pending))
	for i, k := range pending {
		out[i] = k.name
	}
	return out, nil
}

// PendingFiles is NewMigrations for already parsed files
func PendingFiles(wm *model.Watermark, files []*model.MigrationFile) []*model.MigrationFile {
	pending := make([]*model.MigrationFile, 0, len(files))
	for _, f := range files {
		if wm.Admits(f.Key) {
			pending = append(pending, f)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Key.Less(pending[j].Key)
	})
	return pending
}

// Merge combines per-source pending lists into one timeline. Equal keys from
// different sources go in source priority order, then discovery order.
func Merge(lists ...[]*model.MigrationFile) []*model.MigrationFile {
	var merged []*model.MigrationFile
	for _, l := range lists {
		merged = append(merged, l...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if c := merged[i].Key.Compare(merged[j].Key); c != 0 {
			return c < 0
		}
		return merged[i].Source.Priority < merged[j].Source.Priority
	})
	return merged
}

// LatestKey returns the greatest key among files
func LatestKey(files []*model.MigrationFile) (model.Key, bool) {
	if len(files) == 0 {
		return model.Key{}, false
	}
	latest := files[0].Key
	for _, f := range files[1:] {
		if f.Key.After(latest) {
			latest = f.Key
		}
	}
	return latest, true
}
