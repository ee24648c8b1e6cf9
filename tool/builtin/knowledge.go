package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/askdb/memory"
	"github.com/sweetpotato0/askdb/tool"
)

// SearchKnowledge returns the search_knowledge tool over store.
func SearchKnowledge(store memory.MemoryStore) *tool.Tool {
	return &tool.Tool{
		Name:        "search_knowledge",
		Description: "Search previously answered questions and notes about the database, including the SQL that answered them.",
		Parameters: []tool.Parameter{
			{Name: "query", Type: "string", Description: "What to look for", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum number of entries", Default: memory.DefaultSearchLimit},
		},
		Handler: func(ctx context.Context, args map[string]any) (*tool.Result, error) {
			query, _ := args["query"].(string)
			limit := intArg(args["limit"], memory.DefaultSearchLimit)

			entries, err := store.SearchMemory(ctx, strings.TrimSpace(query), limit)
			if err != nil {
				return nil, fmt.Errorf("search knowledge: %w", err)
			}
			if len(entries) == 0 {
				return tool.Success("No matching knowledge."), nil
			}
			parts := make([]string, 0, len(entries))
			for _, e := range entries {
				parts = append(parts, e.Render())
			}
			return tool.Success(strings.Join(parts, "\n---\n")), nil
		},
	}
}

// intArg reads an integer argument. JSON numbers decode as float64.
func intArg(v any, def int) int {
	switch n := v.(type) {
	case float64:
		if n > 0 {
			return int(n)
		}
	case int:
		if n > 0 {
			return n
		}
	case int64:
		if n > 0 {
			return int(n)
		}
	}
	return def
}
