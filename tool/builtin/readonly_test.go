package builtin

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/sweetpotato0/askdb/agent"
	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/tool"
)

var _ agent.QueryValidator = (*ReadOnlyValidator)(nil)

func TestReadOnlyValidator(t *testing.T) {
	v := NewReadOnlyValidator(nil)
	tests := []struct {
		name string
		sql  string
		ok   bool
	}{
		{"select", "SELECT name FROM drivers", true},
		{"trailing semicolon", "select 1;", true},
		{"cte", "WITH wins AS (SELECT driver_id FROM results WHERE position = 1) SELECT count(*) FROM wins", true},
		{"explain", "EXPLAIN SELECT * FROM races", true},
		{"values", "VALUES (1), (2)", true},
		{"show", "SHOW search_path", true},
		{"keyword in literal", "SELECT * FROM notes WHERE body = 'please delete me'", true},
		{"keyword in quoted identifier", `SELECT "update" FROM audit`, true},
		{"keyword in comment", "SELECT 1 -- drop table later\n", true},
		{"keyword in block comment", "SELECT /* insert */ 1", true},
		{"dollar quoted", "SELECT $body$ truncate; $body$", true},
		{"positional parameter", "SELECT * FROM drivers WHERE id = $1", true},
		{"empty", "  ", false},
		{"insert", "INSERT INTO drivers (name) VALUES ('x')", false},
		{"delete", "delete from drivers", false},
		{"ddl", "CREATE TABLE t (id int)", false},
		{"writable cte", "WITH gone AS (DELETE FROM drivers RETURNING *) SELECT * FROM gone", false},
		{"select into", "SELECT * INTO backup FROM drivers", false},
		{"row lock", "SELECT * FROM drivers FOR UPDATE", false},
		{"stacked statements", "SELECT 1; DROP TABLE drivers", false},
		{"two selects", "SELECT 1; SELECT 2", false},
		{"unterminated literal", "SELECT 'oops", false},
		{"unterminated comment", "SELECT 1 /* never closed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(context.Background(), tool.Query{SQL: tt.sql})
			if tt.ok && err != nil {
				t.Fatalf("expected %q to pass, got %v", tt.sql, err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatalf("expected %q to be rejected", tt.sql)
				}
				if !errors.Is(err, errorskg.ErrQueryRejected) {
					t.Errorf("rejection should wrap ErrQueryRejected, got %v", err)
				}
			}
		})
	}
}

func TestReadOnlyValidatorConnections(t *testing.T) {
	db, err := sql.Open("postgres", "host=localhost dbname=f1 sslmode=disable")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conns := NewConnections()
	conns.Add("f1", db)
	defer conns.Close()

	v := NewReadOnlyValidator(conns)
	if err := v.Validate(context.Background(), tool.Query{SQL: "SELECT 1"}); err != nil {
		t.Errorf("default connection should pass: %v", err)
	}
	if err := v.Validate(context.Background(), tool.Query{SQL: "SELECT 1", Connection: "f1"}); err != nil {
		t.Errorf("named connection should pass: %v", err)
	}
	err = v.Validate(context.Background(), tool.Query{SQL: "SELECT 1", Connection: "billing"})
	if !errors.Is(err, errorskg.ErrQueryRejected) {
		t.Errorf("unknown connection should be rejected, got %v", err)
	}
}

func TestScanSQLStatements(t *testing.T) {
	tests := map[string]int{
		"SELECT 1":            1,
		"SELECT 1;":           1,
		"SELECT 1;;  ":        1,
		"SELECT ';'":          1,
		"SELECT 1; SELECT 2;": 2,
		"-- only a comment":   0,
	}
	for src, want := range tests {
		_, got, err := scanSQL(src)
		if err != nil {
			t.Fatalf("scanSQL(%q): %v", src, err)
		}
		if got != want {
			t.Errorf("scanSQL(%q) statements = %d, want %d", src, got, want)
		}
	}
}
