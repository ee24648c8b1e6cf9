package builtin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/memory"
	"github.com/sweetpotato0/askdb/memory/store"
	"github.com/sweetpotato0/askdb/tool"
)

// fakeRows replays a fixed result set.
type fakeRows struct {
	cols []string
	data [][]any
	pos  int
}

func (r *fakeRows) Columns() ([]string, error) { return r.cols, nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	for i := range dest {
		*(dest[i].(*any)) = row[i]
	}
	return nil
}

func (r *fakeRows) Err() error { return nil }

func TestScanRows(t *testing.T) {
	when := time.Date(2020, 11, 15, 10, 10, 0, 0, time.UTC)
	rows := &fakeRows{
		cols: []string{"name", "wins", "last_win"},
		data: [][]any{
			{[]byte("Hamilton"), int64(95), when},
			{[]byte("Verstappen"), int64(10), nil},
			{[]byte("Bottas"), int64(9), nil},
		},
	}

	set, err := scanRows(rows, 2)
	if err != nil {
		t.Fatalf("scanRows: %v", err)
	}
	if set.RowCount != 2 || !set.Truncated {
		t.Errorf("expected 2 truncated rows, got %+v", set)
	}
	if set.Rows[0]["name"] != "Hamilton" {
		t.Errorf("bytes should become text, got %#v", set.Rows[0]["name"])
	}
	if set.Rows[0]["last_win"] != "2020-11-15T10:10:00Z" {
		t.Errorf("unexpected time %#v", set.Rows[0]["last_win"])
	}

	payload, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(payload), `"columns":["name","wins","last_win"]`) {
		t.Errorf("unexpected payload %s", payload)
	}
}

func TestScanRowsEmpty(t *testing.T) {
	set, err := scanRows(&fakeRows{cols: []string{"id"}}, 10)
	if err != nil {
		t.Fatalf("scanRows: %v", err)
	}
	payload, _ := json.Marshal(set)
	if !strings.Contains(string(payload), `"rows":[]`) {
		t.Errorf("empty results should encode as an empty list, got %s", payload)
	}
}

func TestFormatSchema(t *testing.T) {
	out := formatSchema([]column{
		{Schema: "public", Table: "drivers", Name: "id", Type: "integer"},
		{Schema: "public", Table: "drivers", Name: "name", Type: "text", Nullable: true},
		{Schema: "public", Table: "races", Name: "id", Type: "integer"},
	})
	want := "public.drivers\n  id integer NOT NULL\n  name text\n\npublic.races\n  id integer NOT NULL"
	if out != want {
		t.Errorf("unexpected schema:\n%s\nwant:\n%s", out, want)
	}
}

func TestConnections(t *testing.T) {
	conns := NewConnections()
	if _, _, err := conns.Resolve(""); !errors.Is(err, errorskg.ErrNotFound) {
		t.Errorf("empty set should not resolve, got %v", err)
	}

	for _, name := range []string{"f1", "billing"} {
		db, err := sql.Open("postgres", "host=localhost dbname="+name+" sslmode=disable")
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		conns.Add(name, db)
	}
	defer conns.Close()

	if conns.Default() != "f1" {
		t.Errorf("first connection should be the default, got %q", conns.Default())
	}
	if name, _, err := conns.Resolve(""); err != nil || name != "f1" {
		t.Errorf("unexpected default resolution %q %v", name, err)
	}
	if err := conns.SetDefault("billing"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if name, _, _ := conns.Resolve(""); name != "billing" {
		t.Errorf("expected billing, got %q", name)
	}
	var cfgErr *errorskg.ConfigurationError
	if err := conns.SetDefault("missing"); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
	if got := conns.Names(); len(got) != 2 || got[0] != "billing" {
		t.Errorf("unexpected names %v", got)
	}
	if conns.Has("missing") {
		t.Error("unknown connection should not resolve")
	}
}

func TestSearchKnowledge(t *testing.T) {
	ctx := context.Background()
	knowledge := store.NewInMemoryStore()
	_ = knowledge.AddMemory(ctx, memory.NewKnowledge("Who won the 2020 Turkish Grand Prix?", "Hamilton",
		[]tool.Query{{SQL: "SELECT winner FROM races WHERE name = 'Turkish Grand Prix'"}}))
	_ = knowledge.AddMemory(ctx, &memory.Memory{Content: "Lap times are stored in milliseconds"})

	search := SearchKnowledge(knowledge)

	res, err := search.Execute(ctx, map[string]any{"query": "turkish winner", "limit": float64(3)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || !strings.Contains(res.Content, "A: Hamilton") || !strings.Contains(res.Content, "SQL: SELECT winner") {
		t.Errorf("unexpected result %+v", res)
	}

	res, err = search.Execute(ctx, map[string]any{"query": "pit stop strategy"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "No matching knowledge." {
		t.Errorf("unexpected result %q", res.Content)
	}

	if _, err := search.Execute(ctx, map[string]any{}); err == nil {
		t.Error("query is required")
	}
}

func TestToolkit(t *testing.T) {
	conns := NewConnections()
	kit := NewToolkit(conns, WithKnowledge(store.NewInMemoryStore()), WithMaxRows(5))

	registry := tool.NewRegistry()
	if err := tool.RegisterProvider(context.Background(), registry, kit); err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}
	names := make([]string, 0)
	for _, def := range registry.Definitions() {
		names = append(names, def.Name)
	}
	if strings.Join(names, ",") != "describe_schema,run_sql,search_knowledge" {
		t.Errorf("unexpected tools %v", names)
	}

	runSQL, _ := registry.Get("run_sql")
	if !runSQL.ExecutesSQL() {
		t.Error("run_sql must be gated as a SQL tool")
	}
	if q, ok := runSQL.Query(map[string]any{"sql": " SELECT 1 ", "connection": "f1"}); !ok || q.SQL != "SELECT 1" || q.Connection != "f1" {
		t.Errorf("unexpected query %+v", q)
	}
	if !strings.Contains(runSQL.Description, "5 rows") {
		t.Errorf("description should mention the row cap: %q", runSQL.Description)
	}

	if _, err := runSQL.Execute(context.Background(), map[string]any{"sql": "SELECT 1"}); err == nil {
		t.Error("run_sql without connections should fail")
	}
}

// TestRunSQLPostgres requires a PostgreSQL server reachable via POSTGRES_DSN.
func TestRunSQLPostgres(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set, skipping PostgreSQL tool tests")
	}
	ctx := context.Background()
	conns, err := OpenConnections(ctx, map[string]string{"main": dsn}, "main")
	if err != nil {
		t.Skipf("Failed to connect to PostgreSQL: %v", err)
	}
	defer conns.Close()

	_, db, _ := conns.Resolve("")
	if _, err := db.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS askdb_drivers (id int NOT NULL, name text)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	res, err := RunSQL(conns, 10, time.Second).Execute(ctx, map[string]any{"sql": "SELECT 1 AS one, 'x' AS label"})
	if err != nil {
		t.Fatalf("run_sql: %v", err)
	}
	var set RowSet
	if err := json.Unmarshal([]byte(res.Content), &set); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if set.RowCount != 1 || set.Rows[0]["label"] != "x" {
		t.Errorf("unexpected rows %+v", set)
	}
	if res.Query == nil || res.Query.SQL != "SELECT 1 AS one, 'x' AS label" || res.Query.Connection != "" {
		t.Errorf("unexpected query %+v", res.Query)
	}

	if _, err := RunSQL(conns, 10, time.Second).Execute(ctx, map[string]any{"sql": "SELECT * FROM no_such_table"}); err == nil {
		t.Error("invalid SQL should fail")
	}

	// The keyword gate lives in the agent; the transaction alone must refuse writes.
	_, err = RunSQL(conns, 10, time.Second).Execute(ctx, map[string]any{"sql": "CREATE TABLE askdb_write_attempt (id int)"})
	if err == nil || !strings.Contains(err.Error(), "read-only") {
		t.Errorf("writes should be refused by the read-only transaction, got %v", err)
	}
}
