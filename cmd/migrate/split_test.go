package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "多条语句",
			sql:  "CREATE TABLE a (id INT);\nCREATE TABLE b (id INT);",
			want: []string{"CREATE TABLE a (id INT);", "CREATE TABLE b (id INT);"},
		},
		{
			name: "语句前的注释不影响语句",
			sql:  "-- 说明\nCREATE INDEX x ON a (id)\n    WHERE status = 'assigned';",
			want: []string{"CREATE INDEX x ON a (id)\n    WHERE status = 'assigned';"},
		},
		{
			name: "字符串中的分号",
			sql:  "INSERT INTO a VALUES ('x;y');",
			want: []string{"INSERT INTO a VALUES ('x;y');"},
		},
		{
			name: "末尾语句没有分号",
			sql:  "DROP TABLE a;\nDROP TABLE b",
			want: []string{"DROP TABLE a;", "DROP TABLE b"},
		},
		{
			name: "只有注释",
			sql:  "-- nothing\n\n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitStatements(tt.sql))
		})
	}
}

func TestMigrationFiles(t *testing.T) {
	tables := []string{
		"users",
		"mail_items",
		"forwarding_requests",
		"charges",
		"forwarding_outbox_events",
		"address_slots",
		"webhook_log_entries",
	}

	for _, dbType := range []string{"postgres", "mysql"} {
		t.Run(dbType, func(t *testing.T) {
			up, err := os.ReadFile(filepath.Join("..", "..", "migrations", dbType, "001_initial_schema.up.sql"))
			require.NoError(t, err)
			down, err := os.ReadFile(filepath.Join("..", "..", "migrations", dbType, "001_initial_schema.down.sql"))
			require.NoError(t, err)

			upSQL := strings.Join(splitStatements(string(up)), "\n")
			for _, table := range tables {
				assert.Contains(t, upSQL, "CREATE TABLE IF NOT EXISTS "+table+" ")
				assert.Contains(t, string(down), "DROP TABLE IF EXISTS "+table+";")
			}
			assert.Contains(t, upSQL, "ux_forwarding_active")
			assert.Contains(t, upSQL, "ux_address_slot_assignee")
			assert.Contains(t, upSQL, "idx_outbox_pending")
		})
	}
}

func TestDriverName(t *testing.T) {
	driver, err := driverName("postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres", driver)

	driver, err = driverName("mysql")
	require.NoError(t, err)
	assert.Equal(t, "mysql", driver)

	_, err = driverName("sqlite")
	assert.Error(t, err)
}
