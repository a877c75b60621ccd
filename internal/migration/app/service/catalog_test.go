package service

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/dbmigrate/internal/migration/adapters/source"
	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/model"
)

var defaultExts = []string{".py", ".sh"}

func TestMigratableFiles(t *testing.T) {
	c := NewMigrationCatalog(nil, nil, defaultExts)

	got := c.MigratableFiles([]string{
		".gitkeep",
		"20250521-make-bananas.sql",
		"20260810-do-a-thing.py",
		"20260802-did-a-thing.pyc",
		"why-am-i-here.rb",
	})
	assert.Equal(t, []string{"20250521-make-bananas.sql", "20260810-do-a-thing.py"}, got)
}

func TestMigratableFiles_Rules(t *testing.T) {
	tests := []struct {
		name string
		file string
		want bool
	}{
		{name: "sql", file: "20250521-make-bananas.sql", want: true},
		{name: "counter", file: "20250521-3-make-bananas.sql", want: true},
		{name: "shell", file: "20250521-make-bananas.sh", want: true},
		{name: "no extension", file: "20260810-last-timestamp", want: false},
		{name: "no dash after date", file: "20250521make-bananas.sql", want: false},
		{name: "short date", file: "2025052-make-bananas.sql", want: false},
		{name: "invalid calendar date", file: "20250231-make-bananas.sql", want: false},
		{name: "compiled python", file: "20250521-make-bananas.pyc", want: false},
		{name: "ruby", file: "20250521-make-bananas.rb", want: false},
		{name: "upper case extension", file: "20250521-make-bananas.SQL", want: false},
	}

	c := NewMigrationCatalog(nil, nil, defaultExts)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.MigratableFiles([]string{tt.file})
			assert.Equal(t, tt.want, len(got) == 1)
		})
	}
}

func TestMigratableFiles_CustomExtensions(t *testing.T) {
	c := NewMigrationCatalog(nil, nil, []string{".rb", "js"})

	got := c.MigratableFiles([]string{"20250521-a.rb", "20250521-b.js", "20250521-c.py", "20250521-d.sql"})
	assert.Equal(t, []string{"20250521-a.rb", "20250521-b.js", "20250521-d.sql"}, got)
}

func TestMigratableFiles_Idempotent(t *testing.T) {
	c := NewMigrationCatalog(nil, nil, defaultExts)
	names := []string{"20250521-make-bananas.sql", "junk.txt", "20260810-do-a-thing.py"}

	once := c.MigratableFiles(names)
	assert.Equal(t, once, c.MigratableFiles(once))
}

func TestDiscover(t *testing.T) {
	fsys := fstest.MapFS{
		"core/20250521-make-bananas.sql":   {Data: []byte("--")},
		"core/20260810-do-a-thing.py":      {Data: []byte("pass")},
		"core/.gitkeep":                    {},
		"core/sub/20260901-nested.sql":     {Data: []byte("--")},
		"server/20260811-server-thing.sql": {Data: []byte("--")},
		"server/why-am-i-here.rb":          {Data: []byte("")},
	}
	sources := []model.Source{
		{Name: "core", Path: "core", Priority: 0},
		{Name: "server", Path: "server", Priority: 1},
		{Name: "extra", Path: "missing", Priority: 2},
	}

	c := NewMigrationCatalog(sources, source.NewFSLister(fsys), defaultExts)
	catalog, err := c.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"20250521-make-bananas.sql",
		"20260810-do-a-thing.py",
		"20260811-server-thing.sql",
	}, catalog.All)
	assert.Equal(t, []string{"20250521-make-bananas.sql", "20260810-do-a-thing.py"}, catalog.BySource["core"])
	assert.Equal(t, []string{"20260811-server-thing.sql"}, catalog.BySource["server"])
	assert.Empty(t, catalog.BySource["extra"])

	require.Len(t, catalog.Files, 3)
	assert.Equal(t, model.KindSQL, catalog.Files[0].Kind)
	assert.Equal(t, model.KindScript, catalog.Files[1].Kind)
	assert.Equal(t, 1, catalog.Files[2].Source.Priority)
	assert.Len(t, catalog.ForSource("core"), 2)

	content, err := c.Read(context.Background(), catalog.Files[1])
	require.NoError(t, err)
	assert.Equal(t, "pass", string(content))
}

type failingLister struct{ err error }

func (f failingLister) List(ctx context.Context, path string) ([]string, error) { return nil, f.err }

func (f failingLister) Read(ctx context.Context, path, name string) ([]byte, error) {
	return nil, f.err
}

func TestDiscover_ListingFailure(t *testing.T) {
	sources := []model.Source{{Name: "core", Path: "/srv/core"}}
	c := NewMigrationCatalog(sources, failingLister{err: errors.New("permission denied")}, defaultExts)

	_, err := c.Discover(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrDiscovery)

	var discoveryErr *model.DiscoveryError
	require.ErrorAs(t, err, &discoveryErr)
	assert.Equal(t, "core", discoveryErr.Source)
	assert.Equal(t, "/srv/core", discoveryErr.Path)
}
