package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestCoreMigrationEnforcesDriftInvariant(t *testing.T) {
	contents, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0001_core.up.sql"))
	if err != nil {
		t.Fatalf("read core migration: %v", err)
	}
	sql := string(contents)

	// The at-most-one-unresolved-drift invariant must hold below the service
	// layer, so duplicate drift rows cannot appear under concurrent writers.
	if !strings.Contains(sql, "CREATE UNIQUE INDEX idx_drift_one_unresolved") {
		t.Fatal("core migration must define the partial unique index on unresolved drift")
	}
	if !strings.Contains(sql, "WHERE status = 'unresolved'") {
		t.Fatal("unresolved drift index must be partial on status")
	}
}
