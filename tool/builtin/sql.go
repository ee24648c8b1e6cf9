package builtin

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sweetpotato0/askdb/tool"
)

const (
	// DefaultMaxRows caps the rows run_sql returns to the model.
	DefaultMaxRows = 100
	// DefaultQueryTimeout bounds a single statement.
	DefaultQueryTimeout = 30 * time.Second
)

// RowSet is the JSON payload run_sql returns.
type RowSet struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated,omitempty"`
}

// RunSQL returns the run_sql tool. It executes one statement on a named
// connection and returns at most maxRows rows as JSON.
func RunSQL(conns *Connections, maxRows int, timeout time.Duration) *tool.Tool {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &tool.Tool{
		Name:        "run_sql",
		Description: fmt.Sprintf("Run a read-only SQL query and return up to %d rows as JSON.", maxRows),
		Parameters: []tool.Parameter{
			{Name: "sql", Type: "string", Description: "A single SELECT statement", Required: true},
			{Name: "connection", Type: "string", Description: "Connection name; omit for the default connection"},
		},
		QueryFromArgs: tool.SQLQueryFromArgs,
		Handler: func(ctx context.Context, args map[string]any) (*tool.Result, error) {
			q, ok := tool.SQLQueryFromArgs(args)
			if !ok {
				return tool.Failure("sql must not be empty"), nil
			}
			_, db, err := conns.Resolve(q.Connection)
			if err != nil {
				return nil, err
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			set, err := queryReadOnly(ctx, db, q.SQL, maxRows)
			if err != nil {
				return nil, err
			}
			payload, err := json.Marshal(set)
			if err != nil {
				return nil, fmt.Errorf("encode rows: %w", err)
			}
			return &tool.Result{Success: true, Content: string(payload), Query: &q}, nil
		},
	}
}

// queryReadOnly runs stmt in a read-only transaction, so the server rejects
// writes the keyword gate missed. The transaction is always rolled back.
func queryReadOnly(ctx context.Context, db *sql.DB, stmt string, maxRows int) (*RowSet, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	return scanRows(rows, maxRows)
}

// rowScanner is the subset of *sql.Rows scanRows needs.
type rowScanner interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRows(rows rowScanner, maxRows int) (*RowSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	set := &RowSet{Columns: cols, Rows: []map[string]any{}}

	for rows.Next() {
		if len(set.Rows) == maxRows {
			set.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		set.Rows = append(set.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	set.RowCount = len(set.Rows)
	return set, nil
}

// normalizeValue makes driver values JSON friendly. lib/pq returns text,
// numeric and unknown types as []byte.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	}
	return v
}

// DescribeSchema returns the describe_schema tool. It lists the columns of
// every user table, or of one table, from information_schema.
func DescribeSchema(conns *Connections) *tool.Tool {
	return &tool.Tool{
		Name:        "describe_schema",
		Description: "List tables and their columns. Pass a table name to describe only that table.",
		Parameters: []tool.Parameter{
			{Name: "table", Type: "string", Description: "Table name, optionally schema-qualified"},
			{Name: "connection", Type: "string", Description: "Connection name; omit for the default connection"},
		},
		Handler: func(ctx context.Context, args map[string]any) (*tool.Result, error) {
			conn, _ := args["connection"].(string)
			table, _ := args["table"].(string)
			_, db, err := conns.Resolve(strings.TrimSpace(conn))
			if err != nil {
				return nil, err
			}
			cols, err := loadColumns(ctx, db, strings.TrimSpace(table))
			if err != nil {
				return nil, err
			}
			if len(cols) == 0 {
				if table != "" {
					return tool.Failure(fmt.Sprintf("table %q not found", table)), nil
				}
				return tool.Success("No tables found."), nil
			}
			return tool.Success(formatSchema(cols)), nil
		},
	}
}

type column struct {
	Schema   string
	Table    string
	Name     string
	Type     string
	Nullable bool
}

const columnsQuery = `
	SELECT table_schema, table_name, column_name, data_type, is_nullable = 'YES'
	FROM information_schema.columns
	WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
	  AND ($1 = '' OR table_name = $1 OR table_schema || '.' || table_name = $1)
	ORDER BY table_schema, table_name, ordinal_position`

func loadColumns(ctx context.Context, db *sql.DB, table string) ([]column, error) {
	rows, err := db.QueryContext(ctx, columnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("describe schema: %w", err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.Schema, &c.Table, &c.Name, &c.Type, &c.Nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func formatSchema(cols []column) string {
	var b strings.Builder
	current := ""
	for _, c := range cols {
		name := c.Schema + "." + c.Table
		if name != current {
			if current != "" {
				b.WriteString("\n")
			}
			b.WriteString(name)
			b.WriteString("\n")
			current = name
		}
		b.WriteString("  ")
		b.WriteString(c.Name)
		b.WriteString(" ")
		b.WriteString(c.Type)
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
