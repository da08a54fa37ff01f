package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/highlightz-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestTaskMigrationContainsLifecycleConstraints(t *testing.T) {
	content := readMigration(t, "create_ml_tasks")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS ml_tasks",
		"FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE",
		"CHECK (status IN ('pending', 'running', 'success', 'failed'))",
		"CHECK (status <> 'pending' OR (started_at IS NULL AND finished_at IS NULL))",
		"CHECK (status NOT IN ('success', 'failed') OR finished_at IS NOT NULL)",
		"error_message TEXT NOT NULL DEFAULT ''",
		"DROP TABLE IF EXISTS ml_tasks",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestHighlightMigrationContainsRangeChecks(t *testing.T) {
	content := readMigration(t, "create_highlights")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS highlights",
		"event_type VARCHAR(32) NOT NULL",
		"CHECK (start_time >= 0)",
		"CHECK (end_time >= start_time)",
		"ON DELETE CASCADE",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("expected migrations dir to validate: %v", err)
	}
}

func TestValidateDirRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_init.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename to fail")
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Clip Index")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_clip_index.sql") {
		t.Fatalf("unexpected path %q", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}

func TestValidateDirRequiresDownSection(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nCREATE TABLE clips (id BIGSERIAL PRIMARY KEY);\n"
	if err := os.WriteFile(filepath.Join(dir, "20260902100000_create_clips.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected missing down section to fail")
	}
}
