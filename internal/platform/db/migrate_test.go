package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreEmbeddedWithGooseMarkers(t *testing.T) {
	entries, err := fs.ReadDir(Migrations, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, entry := range entries {
		raw, err := fs.ReadFile(Migrations, "migrations/"+entry.Name())
		require.NoError(t, err)
		body := string(raw)
		assert.True(t, strings.HasPrefix(body, "-- +goose Up"), entry.Name())
		assert.Contains(t, body, "-- +goose Down", entry.Name())
	}
}

func TestInitMigrationCreatesCoreTables(t *testing.T) {
	raw, err := fs.ReadFile(Migrations, "migrations/00001_init.sql")
	require.NoError(t, err)
	for _, table := range []string{"user_role", "client", "note", "security_event", "user_activity", "user_filter_setting", "idempotency_key"} {
		assert.Contains(t, string(raw), "CREATE TABLE "+table+" (", table)
	}
}
