package db

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"empires/internal/db/migrations"
)

func TestUpSection(t *testing.T) {
	content := "-- header\n-- +migrate Up\nCREATE TABLE a (id int);\n-- +migrate Down\nDROP TABLE a;\n"
	up := UpSection(content)
	assert.Contains(t, up, "CREATE TABLE a")
	assert.NotContains(t, up, "DROP TABLE a")

	assert.Equal(t, "SELECT 1;", UpSection("SELECT 1;"))
}

func TestEmbeddedMigrationsCarryInvariants(t *testing.T) {
	raw, err := fs.ReadFile(migrations.FS, "0001_init.sql")
	require.NoError(t, err)
	up := UpSection(string(raw))

	for _, want := range []string{
		"CHECK (balance >= 0)",
		"CHECK (workers BETWEEN 0 AND 100)",
		"CHECK ((owner_user_id IS NULL) <> (owner_clan_id IS NULL))",
		"name            TEXT NOT NULL UNIQUE",
		"WHERE role = 'leader'",
	} {
		assert.True(t, strings.Contains(up, want), "schema missing %q", want)
	}
	assert.NotContains(t, up, "DROP SCHEMA")
}

func TestConcurrentMigratorsApplyOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in -short mode")
	}
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL integration tests")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, databaseURL, PoolOptions{AppName: "empires-migrate-test", MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	suffix := time.Now().UnixNano()
	table := fmt.Sprintf("public.migrate_scratch_%d", suffix)
	name := fmt.Sprintf("9000_scratch_%d.sql", suffix)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP TABLE IF EXISTS `+table)
		_, _ = pool.Exec(context.Background(), `DELETE FROM public.schema_migrations WHERE name = $1`, name)
	})
	files := fstest.MapFS{
		name: {Data: []byte("-- +migrate Up\nCREATE TABLE " + table + " (id int);\n-- +migrate Down\nDROP TABLE " + table + ";\n")},
	}

	const workers = 6
	var wg sync.WaitGroup
	applied := make([][]string, workers)
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied[i], errs[i] = ApplyMigrations(ctx, pool, files)
		}()
	}
	wg.Wait()

	ran := 0
	for i := range workers {
		require.NoError(t, errs[i])
		ran += len(applied[i])
	}
	assert.Equal(t, 1, ran)
}
