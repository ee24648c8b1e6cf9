package memory

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/sweetpotato0/askdb/tool"
)

// Memory is a piece of prior knowledge: a question that was answered
// successfully together with the SQL that grounded the answer, or a free-form
// note about the database.
type Memory struct {
	ID        string         `json:"id" bson:"_id"`
	Question  string         `json:"question,omitempty" bson:"question,omitempty"`
	Answer    string         `json:"answer,omitempty" bson:"answer,omitempty"`
	Queries   []tool.Query   `json:"queries,omitempty" bson:"queries,omitempty"`
	Content   string         `json:"content" bson:"content"`
	Metadata  map[string]any `json:"metadata" bson:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" bson:"updated_at"`
}

// NewKnowledge builds an entry from an answered question.
func NewKnowledge(question, answer string, queries []tool.Query) *Memory {
	now := time.Now()
	m := &Memory{
		ID:        GenerateMemoryID(),
		Question:  question,
		Answer:    answer,
		Queries:   append([]tool.Query(nil), queries...),
		Metadata:  map[string]any{"kind": "answer"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.Content = m.Render()
	return m
}

// Render formats the entry the way the search_knowledge tool shows it to the model.
func (m *Memory) Render() string {
	if m.Question == "" && m.Answer == "" && len(m.Queries) == 0 {
		return m.Content
	}
	var b strings.Builder
	if m.Question != "" {
		b.WriteString("Q: ")
		b.WriteString(m.Question)
		b.WriteString("\n")
	}
	if m.Answer != "" {
		b.WriteString("A: ")
		b.WriteString(m.Answer)
		b.WriteString("\n")
	}
	for _, q := range m.Queries {
		b.WriteString("SQL")
		if q.Connection != "" {
			b.WriteString(" [")
			b.WriteString(q.Connection)
			b.WriteString("]")
		}
		b.WriteString(": ")
		b.WriteString(q.SQL)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Prepare fills in the ID, timestamps and content of an entry before it is stored.
func Prepare(m *Memory) {
	if m.ID == "" {
		m.ID = GenerateMemoryID()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Content == "" {
		m.Content = m.Render()
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
}

// GenerateMemoryID generates a unique ID for a memory entry
func GenerateMemoryID() string {
	return "mem_" + uuid.NewString()
}

// Keywords splits text into lower-cased search terms, dropping short words.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := fields[:0]
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// DefaultSearchLimit is used when a caller passes a non-positive limit.
const DefaultSearchLimit = 5

// MemoryStore defines the interface for storing and retrieving memories.
type MemoryStore interface {
	AddMemory(ctx context.Context, mem *Memory) error
	// SearchMemory returns up to limit entries relevant to query, best first.
	// An empty query returns the most recent entries.
	SearchMemory(ctx context.Context, query string, limit int) ([]*Memory, error)
}
