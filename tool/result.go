package tool

import (
	"strings"
)

// Query is a SQL statement executed by a tool. An empty Connection means the
// default connection and is omitted from JSON.
type Query struct {
	SQL        string `json:"sql"`
	Connection string `json:"connection,omitempty"`
}

// Result is the outcome of a tool execution. Content is what the model sees.
type Result struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
	Query   *Query `json:"query,omitempty"`
}

// Success builds a successful result.
func Success(content string) *Result {
	return &Result{Success: true, Content: content}
}

// Failure builds a failed result whose content repeats the error for the model.
func Failure(msg string) *Result {
	return &Result{Success: false, Content: msg, Error: msg}
}

// SQLQueryFromArgs extracts {sql, connection} arguments. It is the usual
// QueryFromArgs for SQL tools.
func SQLQueryFromArgs(args map[string]any) (Query, bool) {
	sql, _ := args["sql"].(string)
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return Query{}, false
	}
	conn, _ := args["connection"].(string)
	return Query{SQL: sql, Connection: strings.TrimSpace(conn)}, true
}
