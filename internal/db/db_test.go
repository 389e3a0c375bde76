package db

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptyURL(t *testing.T) {
	db, err := New(context.Background(), "", PoolOptions{})
	assert.Error(t, err)
	assert.Nil(t, db)
}

func TestNew_InvalidURL(t *testing.T) {
	db, err := New(context.Background(), "postgres://%zz", PoolOptions{})
	assert.Error(t, err)
	assert.Nil(t, db)
}

func TestCloseWithoutPool(t *testing.T) {
	db := &DB{}
	assert.NotPanics(t, db.Close)
}

func TestEmbeddedMigrations(t *testing.T) {
	m := NewMigrator(nil)

	migrations, err := m.Migrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "trial log", migrations[0].Description)
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS trial_log")

	assert.Equal(t, 2, migrations[1].Version)
	assert.Contains(t, migrations[1].SQL, "candlesticks")
}

func TestLoadMigrations_SortsAndSkips(t *testing.T) {
	files := fstest.MapFS{
		"010_later.sql":  {Data: []byte("SELECT 10")},
		"002_first.sql":  {Data: []byte("SELECT 2")},
		"README.md":      {Data: []byte("notes")},
		"subdir/003.sql": {Data: []byte("SELECT 3")},
	}

	migrations, err := loadMigrations(files)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 2, migrations[0].Version)
	assert.Equal(t, 10, migrations[1].Version)
}

func TestLoadMigrations_BadName(t *testing.T) {
	files := fstest.MapFS{
		"initial.sql": {Data: []byte("SELECT 1")},
	}

	_, err := loadMigrations(files)
	assert.Error(t, err)
}
