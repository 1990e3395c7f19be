package db

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestPragmasApplied verifies that essential PRAGMAs are set on every database.
func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var synchronous int
	if err := db.QueryRow("PRAGMA synchronous").Scan(&synchronous); err != nil {
		t.Fatalf("Failed to query synchronous: %v", err)
	}
	if synchronous != 1 { // 1 = NORMAL
		t.Errorf("Expected synchronous=1 (NORMAL), got %d", synchronous)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("Failed to query foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("Expected foreign_keys=1, got %d", foreignKeys)
	}
}

func TestNewDB_AppliesEmbeddedMigrations(t *testing.T) {
	db := newTestDB(t)

	for _, table := range []string{"pipeline_runs", "area_records", "label_points", "classifier_models", "accuracy_reports"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s", table)
	}

	migrations, err := MigrationsFS()
	require.NoError(t, err)
	latest, err := GetLatestMigrationVersion(migrations)
	require.NoError(t, err)

	st, err := db.GetMigrationStatus(migrations)
	require.NoError(t, err)
	assert.Equal(t, latest, st.CurrentVersion)
	assert.Equal(t, latest, st.LatestVersion)
	assert.False(t, st.Dirty)
	assert.True(t, st.SchemaMigrationsExists)
}

func TestNewDB_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db1, err := NewDB(path)
	require.NoError(t, err)
	db1.Close()

	db2, err := NewDB(path)
	require.NoError(t, err)
	defer db2.Close()
	assert.Equal(t, path, db2.Path())
}

func TestAreaRecordConstraints(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Exec(`INSERT INTO pipeline_runs (run_id, region_id, start_date, end_date, granularity, started_at)
		VALUES ('run-1', 'r1', '2021-06-01', '2021-07-01', 'month', 0)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO area_records (run_id, region_id, period_start, period_end, water_area_m2, image_count, status)
		VALUES ('run-1', 'r1', '2021-06-01', '2021-07-01', -1, 1, 'ok')`)
	assert.Error(t, err, "negative area must be rejected")

	_, err = db.Exec(`INSERT INTO area_records (run_id, region_id, period_start, period_end, water_area_m2, image_count, status)
		VALUES ('missing', 'r1', '2021-06-01', '2021-07-01', 1, 1, 'ok')`)
	assert.Error(t, err, "foreign key to pipeline_runs must be enforced")
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"000001_create_test_table.up.sql":   {Data: []byte(`CREATE TABLE test_table (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`)},
		"000001_create_test_table.down.sql": {Data: []byte(`DROP TABLE IF EXISTS test_table;`)},
		"000002_add_index.up.sql":           {Data: []byte(`CREATE INDEX idx_test_name ON test_table (name);`)},
		"000002_add_index.down.sql":         {Data: []byte(`DROP INDEX IF EXISTS idx_test_name;`)},
	}
}

func TestMigrateUpDownTo(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()
	fsys := testMigrations()

	v, dirty, err := db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateUp(fsys))
	v, _, err = db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	// A second up is a no-op.
	require.NoError(t, db.MigrateUp(fsys))

	require.NoError(t, db.MigrateDown(fsys))
	v, _, err = db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	require.NoError(t, db.MigrateTo(fsys, 2))
	v, _, err = db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	require.NoError(t, db.MigrateForce(fsys, 1))
	v, _, err = db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}

func TestBaselineAtVersion(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "b.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.BaselineAtVersion(1))
	v, _, err := db.MigrateVersion(testMigrations())
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	err = db.BaselineAtVersion(2)
	assert.Error(t, err, "baseline on a migrated database must fail")
}

func TestGetLatestMigrationVersion(t *testing.T) {
	v, err := GetLatestMigrationVersion(testMigrations())
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	_, err = GetLatestMigrationVersion(fstest.MapFS{})
	assert.Error(t, err)
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "up to date")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"down"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "1 version(s) behind")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"help"}, path, &out))
	assert.Contains(t, out.String(), "waterextent migrate")

	err := RunMigrateCommand(nil, path, &out)
	assert.True(t, errors.Is(err, ErrUsage))
	err = RunMigrateCommand([]string{"bogus"}, path, &out)
	assert.True(t, errors.Is(err, ErrUsage))
	err = RunMigrateCommand([]string{"force"}, path, &out)
	assert.True(t, errors.Is(err, ErrUsage))
	err = RunMigrateCommand([]string{"version", "abc"}, path, &out)
	assert.Error(t, err)
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("backup status = %d, body %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "waterextent-backup-") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	// gzip magic
	body := rec.Body.Bytes()
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		t.Errorf("backup body is not gzip")
	}
}
