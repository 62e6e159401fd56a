package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/morezero/component-runtime/pkg/db"
)

const mainTestPrefix = "cmd/componentrt:main_test"

func TestUsage_ContainsCommands(t *testing.T) {
	required := []string{"serve", "migrate", "clear", "endpoints", "deployment", "DATABASE_URL", "CATALOG_STORE"}
	for _, word := range required {
		if !strings.Contains(usage, word) {
			t.Errorf("%s - usage should contain %q", mainTestPrefix, word)
		}
	}
}

func TestParseStatusArgs(t *testing.T) {
	id, status, healthy, err := parseStatusArgs([]string{"abc", "draining"})
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", mainTestPrefix, err)
	}
	if id != "abc" || status != "draining" || !healthy {
		t.Errorf("%s - got (%q, %q, %t), want (abc, draining, true)", mainTestPrefix, id, status, healthy)
	}

	_, _, healthy, err = parseStatusArgs([]string{"abc", "active", "false"})
	if err != nil || healthy {
		t.Errorf("%s - explicit false: healthy=%t err=%v", mainTestPrefix, healthy, err)
	}

	if _, _, _, err := parseStatusArgs([]string{"abc"}); err == nil {
		t.Errorf("%s - expected error for missing status", mainTestPrefix)
	}
	if _, _, _, err := parseStatusArgs([]string{"abc", "active", "maybe"}); err == nil {
		t.Errorf("%s - expected error for bad healthy flag", mainTestPrefix)
	}
}

func TestPrintMigrationReport(t *testing.T) {
	var buf bytes.Buffer
	printMigrationReport(&buf, "migrations", &db.MigrationReport{
		Applied: []int{1},
		Pending: []db.Migration{{Version: 2, Name: "add_labels"}},
	})
	out := buf.String()
	for _, want := range []string{"1 applied, 1 pending", "applied  0001", "pending  0002_add_labels"} {
		if !strings.Contains(out, want) {
			t.Errorf("%s - report missing %q:\n%s", mainTestPrefix, want, out)
		}
	}
}
