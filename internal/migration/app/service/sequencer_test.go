package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/model"
)

func watermarkAt(y int, m time.Month, d int, counter *int) *model.Watermark {
	key := model.NewKey(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
	if counter != nil {
		key = key.WithCounter(*counter)
	}
	return model.NewWatermark("core", key)
}

func counter(n int) *int { return &n }

func TestNewMigrations(t *testing.T) {
	tests := []struct {
		name       string
		watermark  *model.Watermark
		migrations []string
		want       []string
	}{
		{
			name:       "after a date watermark",
			watermark:  watermarkAt(2026, 8, 10, nil),
			migrations: []string{"20260811-do-a-thing.py", "20260809-already-done.sql"},
			want:       []string{"20260811-do-a-thing.py"},
		},
		{
			name:      "sorted by date and names without extension tolerated",
			watermark: watermarkAt(2026, 8, 10, nil),
			migrations: []string{
				"20271202-future-migration-funtime.sql",
				"20250521-make-bananas.sql",
				"20260810-last-timestamp",
				"20260811-do-a-thing.py",
				"20260809-already-done.sql",
			},
			want: []string{"20260811-do-a-thing.py", "20271202-future-migration-funtime.sql"},
		},
		{
			name:      "past the watermark counter",
			watermark: watermarkAt(2026, 8, 10, counter(1)),
			migrations: []string{
				"20271202-future-migration-funtime.sql",
				"20260810-last-timestamp.sql",
				"20260810-1-do-a-thing.sql",
				"20260810-2-do-all-the-things.sql",
				"20260809-already-done.sql",
			},
			want: []string{"20260810-2-do-all-the-things.sql", "20271202-future-migration-funtime.sql"},
		},
		{
			name:       "same day without counter equals the watermark",
			watermark:  watermarkAt(2026, 8, 10, nil),
			migrations: []string{"20260810-do-a-thing.sql", "20260810-1-do-all-the-things.sql"},
			want:       []string{"20260810-1-do-all-the-things.sql"},
		},
		{
			name:      "counters sort after plain dates",
			watermark: watermarkAt(2026, 8, 10, nil),
			migrations: []string{
				"20260810-do-a-thing.sql",
				"20271202-1-more-future-migration-funtime.sql",
				"20260810-1-do-all-the-things.sql",
				"20260809-already-done.sql",
				"20271202-future-migration-funtime.sql",
			},
			want: []string{
				"20260810-1-do-all-the-things.sql",
				"20271202-future-migration-funtime.sql",
				"20271202-1-more-future-migration-funtime.sql",
			},
		},
		{
			name:       "counters compare as numbers",
			watermark:  watermarkAt(2026, 8, 10, counter(1)),
			migrations: []string{"20260810-10-ten.sql", "20260810-2-two.sql", "20260810-9-nine.sql"},
			want:       []string{"20260810-2-two.sql", "20260810-9-nine.sql", "20260810-10-ten.sql"},
		},
		{
			name:       "nothing new",
			watermark:  watermarkAt(2027, 1, 1, nil),
			migrations: []string{"20260811-do-a-thing.py"},
			want:       []string{},
		},
		{
			name:       "empty input",
			watermark:  watermarkAt(2027, 1, 1, nil),
			migrations: nil,
			want:       []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewMigrations(tt.watermark, tt.migrations)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewMigrations_InvalidName(t *testing.T) {
	_, err := NewMigrations(watermarkAt(2026, 8, 10, nil), []string{"20260811-ok.sql", "README.md"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrFormat)
}

func TestNewMigrations_EmptyAfterFullApplication(t *testing.T) {
	names := []string{
		"20260810-1-do-all-the-things.sql",
		"20271202-future-migration-funtime.sql",
		"20271202-1-more-future-migration-funtime.sql",
	}
	wm := watermarkAt(2026, 8, 10, nil)

	pending, err := NewMigrations(wm, names)
	require.NoError(t, err)
	for _, name := range pending {
		key, err := model.ParseKey(name)
		require.NoError(t, err)
		wm.MoveTo(key)
	}

	again, err := NewMigrations(wm, names)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, "20271202-1", wm.Key().String())
}

func TestSortMigrations_Stable(t *testing.T) {
	got, err := SortMigrations([]string{
		"20260810-b.sql",
		"20250521-make-bananas.sql",
		"20260810-a.py",
		"20260810-1-c.sql",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"20250521-make-bananas.sql",
		"20260810-b.sql",
		"20260810-a.py",
		"20260810-1-c.sql",
	}, got)
}

func file(t *testing.T, name string, src model.Source) *model.MigrationFile {
	t.Helper()
	f, err := model.NewMigrationFile(name, src)
	require.NoError(t, err)
	return f
}

func TestMerge_TieBreaksBySourcePriority(t *testing.T) {
	core := model.Source{Name: "core", Priority: 0}
	server := model.Source{Name: "server", Priority: 1}

	merged := Merge(
		[]*model.MigrationFile{
			file(t, "20260811-core-first.sql", core),
			file(t, "20260812-core-second.sql", core),
		},
		[]*model.MigrationFile{
			file(t, "20260810-server-early.sql", server),
			file(t, "20260811-server-tie.sql", server),
		},
	)

	got := make([]string, len(merged))
	for i, f := range merged {
		got[i] = f.Source.Name + "/" + f.Filename
	}
	assert.Equal(t, []string{
		"server/20260810-server-early.sql",
		"core/20260811-core-first.sql",
		"server/20260811-server-tie.sql",
		"core/20260812-core-second.sql",
	}, got)
}

func TestMerge_LowerPriorityListedFirst(t *testing.T) {
	core := model.Source{Name: "core", Priority: 0}
	server := model.Source{Name: "server", Priority: 1}

	merged := Merge(
		[]*model.MigrationFile{file(t, "20260811-server.sql", server)},
		[]*model.MigrationFile{file(t, "20260811-core.sql", core)},
	)
	require.Len(t, merged, 2)
	assert.Equal(t, "core", merged[0].Source.Name)
}

func TestPendingFiles(t *testing.T) {
	core := model.Source{Name: "core"}
	files := []*model.MigrationFile{
		file(t, "20271202-future.sql", core),
		file(t, "20260810-2-two.sql", core),
		file(t, "20260810-1-one.sql", core),
	}

	pending := PendingFiles(watermarkAt(2026, 8, 10, counter(1)), files)
	require.Len(t, pending, 2)
	assert.Equal(t, "20260810-2-two.sql", pending[0].Filename)
	assert.Equal(t, "20271202-future.sql", pending[1].Filename)
}

func TestLatestKey(t *testing.T) {
	core := model.Source{Name: "core"}

	_, ok := LatestKey(nil)
	assert.False(t, ok)

	key, ok := LatestKey([]*model.MigrationFile{
		file(t, "20260811-a.sql", core),
		file(t, "20260811-2-b.sql", core),
		file(t, "20250521-c.sql", core),
	})
	require.True(t, ok)
	assert.Equal(t, "20260811-2", key.String())
}
