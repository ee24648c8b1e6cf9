package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/llm"
	"github.com/sweetpotato0/askdb/message"
)

// wireRequest is the subset of the /api/chat body the tests inspect.
type wireRequest struct {
	Model    string          `json:"model"`
	Stream   *bool           `json:"stream"`
	Think    json.RawMessage `json:"think"`
	Options  map[string]any  `json:"options"`
	Messages []struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		ToolName  string `json:"tool_name"`
		ToolCalls []struct {
			Function struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"messages"`
	Tools []struct {
		Type     string `json:"type"`
		Function struct {
			Name       string          `json:"name"`
			Parameters json.RawMessage `json:"parameters"`
		} `json:"function"`
	} `json:"tools"`
}

type recorder struct {
	mu   sync.Mutex
	body wireRequest
}

func newServer(t *testing.T, rec *recorder, handler func(w http.ResponseWriter, req wireRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var req wireRequest
		_ = json.Unmarshal(raw, &req)
		if rec != nil {
			rec.mu.Lock()
			rec.body = req
			rec.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newDriver(t *testing.T, config Config) *Driver {
	t.Helper()
	d, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestChatToolCalls(t *testing.T) {
	rec := &recorder{}
	srv := newServer(t, rec, func(w http.ResponseWriter, req wireRequest) {
		if req.Stream == nil || *req.Stream {
			t.Errorf("expected stream=false")
		}
		fmt.Fprintln(w, `{"model":"llama3.1","message":{"role":"assistant","content":"","tool_calls":[`+
			`{"function":{"name":"run_sql","arguments":{"sql":"SELECT 1"}}},`+
			`{"function":{"name":"describe_schema","arguments":{}}}`+
			`]},"done":true,"done_reason":"stop","prompt_eval_count":40,"eval_count":12}`)
	})
	d := newDriver(t, Config{BaseURL: srv.URL + "/", Temperature: 0.2, MaxTokens: 256})

	resp, err := d.Chat(context.Background(), &llm.Request{
		Messages: []*message.Message{message.NewMessage(message.RoleUser, "how many users?")},
		Tools:    []llm.ToolDefinition{{Name: "run_sql", Description: "Run SQL"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.FinishReason != llm.FinishToolCalls {
		t.Errorf("expected tool_calls, got %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID == "" || resp.ToolCalls[0].ID == resp.ToolCalls[1].ID {
		t.Errorf("expected distinct generated ids, got %q and %q", resp.ToolCalls[0].ID, resp.ToolCalls[1].ID)
	}
	if sql, _ := resp.ToolCalls[0].Arg("sql"); sql != "SELECT 1" {
		t.Errorf("unexpected sql %q", sql)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 52 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.body.Tools) != 1 || rec.body.Tools[0].Type != "function" || rec.body.Tools[0].Function.Name != "run_sql" {
		t.Fatalf("unexpected tools %+v", rec.body.Tools)
	}
	if !strings.Contains(string(rec.body.Tools[0].Function.Parameters), `"object"`) {
		t.Errorf("tool parameters should default to an object schema, got %s", rec.body.Tools[0].Function.Parameters)
	}
	if rec.body.Options["num_predict"] != float64(256) || rec.body.Options["temperature"] != 0.2 {
		t.Errorf("unexpected options %v", rec.body.Options)
	}
}

func TestReplayEncodesEmptyArgumentsAsObject(t *testing.T) {
	rec := &recorder{}
	srv := newServer(t, rec, func(w http.ResponseWriter, _ wireRequest) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"done"},"done":true,"done_reason":"stop"}`)
	})
	d := newDriver(t, Config{BaseURL: srv.URL})

	_, err := d.Chat(context.Background(), &llm.Request{Messages: []*message.Message{
		message.NewMessage(message.RoleUser, "list tables"),
		message.NewToolCallMessage("", []message.ToolCall{message.NewToolCall("call_1", "describe_schema", nil)}),
		message.NewToolResponseMessage("call_1", "describe_schema", "users(id, name)", false),
	}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	msgs := rec.body.Messages
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if got := string(msgs[1].ToolCalls[0].Function.Arguments); got != "{}" {
		t.Errorf("empty arguments should encode as {}, got %s", got)
	}
	if msgs[2].ToolName != "describe_schema" {
		t.Errorf("tool message should carry tool_name, got %q", msgs[2].ToolName)
	}
}

func TestChatInvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args string
	}{
		{"array", `[1,2]`},
		{"encoded string", `"{\"sql\":\"SELECT 2\"}"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, nil, func(w http.ResponseWriter, _ wireRequest) {
				fmt.Fprintln(w, `{"message":{"role":"assistant","tool_calls":[{"function":{"name":"run_sql","arguments":`+tt.args+`}}]},"done":true}`)
			})
			_, err := newDriver(t, Config{BaseURL: srv.URL}).Chat(context.Background(), &llm.Request{})
			var invalid *errorskg.InvalidResponseError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidResponseError, got %v", err)
			}
		})
	}
}

func TestChatHTTPError(t *testing.T) {
	srv := newServer(t, nil, func(w http.ResponseWriter, _ wireRequest) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, `{"error":"model \"nope\" not found"}`)
	})
	_, err := newDriver(t, Config{BaseURL: srv.URL, Model: "nope"}).Chat(context.Background(), &llm.Request{})
	var pe *errorskg.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.StatusCode != http.StatusNotFound || !strings.Contains(pe.Error(), "not found") {
		t.Errorf("unexpected error %v", pe)
	}
}

func TestChatCancelled(t *testing.T) {
	srv := newServer(t, nil, func(w http.ResponseWriter, _ wireRequest) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"late"},"done":true}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newDriver(t, Config{BaseURL: srv.URL}).Chat(ctx, &llm.Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStream(t *testing.T) {
	rec := &recorder{}
	srv := newServer(t, rec, func(w http.ResponseWriter, _ wireRequest) {
		lines := []string{
			`{"message":{"role":"assistant","content":"","thinking":"need a count"},"done":false}`,
			`{"message":{"role":"assistant","content":"Counting"},"done":false}`,
			`{"message":{"role":"assistant","content":" users."},"done":false}`,
			`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"run_sql","arguments":{"sql":"SELECT count(*) FROM users"}}}]},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":10,"eval_count":7}`,
		}
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	})
	d := newDriver(t, Config{BaseURL: srv.URL, Think: true})

	var chunks []*llm.StreamChunk
	for chunk, err := range d.Stream(context.Background(), &llm.Request{}) {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(chunks))
	}
	if chunks[0].Thinking != "need a count" {
		t.Errorf("unexpected thinking %q", chunks[0].Thinking)
	}
	if chunks[1].Content+chunks[2].Content != "Counting users." {
		t.Errorf("unexpected content")
	}
	if len(chunks[3].ToolCalls) != 1 || chunks[3].IsTerminal() {
		t.Errorf("unexpected tool call chunk %+v", chunks[3])
	}
	last := chunks[4]
	if last.FinishReason != llm.FinishToolCalls || last.Usage == nil || last.Usage.TotalTokens != 17 {
		t.Errorf("unexpected terminal chunk %+v", last)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.body.Stream == nil || !*rec.body.Stream || string(rec.body.Think) != "true" {
		t.Errorf("expected stream and think flags, got stream=%v think=%s", rec.body.Stream, rec.body.Think)
	}
}

func TestStreamHTTPError(t *testing.T) {
	srv := newServer(t, nil, func(w http.ResponseWriter, _ wireRequest) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, `{"error":"model runner crashed"}`)
	})
	var got error
	for _, err := range newDriver(t, Config{BaseURL: srv.URL}).Stream(context.Background(), &llm.Request{}) {
		if err != nil {
			got = err
		}
	}
	var pe *errorskg.ProviderError
	if !errors.As(got, &pe) || pe.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 ProviderError, got %v", got)
	}
}

func TestStreamConsumerStop(t *testing.T) {
	srv := newServer(t, nil, func(w http.ResponseWriter, _ wireRequest) {
		for i := 0; i < 50; i++ {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":"w%d "},"done":false}`+"\n", i)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`)
	})

	count := 0
	for _, err := range newDriver(t, Config{BaseURL: srv.URL}).Stream(context.Background(), &llm.Request{}) {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Errorf("expected to stop after 2 chunks, got %d", count)
	}
}

func TestDisableTools(t *testing.T) {
	rec := &recorder{}
	srv := newServer(t, rec, func(w http.ResponseWriter, _ wireRequest) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"ok"},"done":true}`)
	})
	d := newDriver(t, Config{BaseURL: srv.URL, DisableTools: true})
	if d.SupportsToolCalling() {
		t.Fatal("expected tool calling disabled")
	}
	if _, err := d.Chat(context.Background(), &llm.Request{Tools: []llm.ToolDefinition{{Name: "run_sql"}}}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.body.Tools) != 0 {
		t.Errorf("expected no tools, got %d", len(rec.body.Tools))
	}
}

func TestWithModelSharesClient(t *testing.T) {
	rec := &recorder{}
	srv := newServer(t, rec, func(w http.ResponseWriter, _ wireRequest) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"ok"},"done":true}`)
	})
	d := newDriver(t, Config{BaseURL: srv.URL, Model: "llama3.1"})
	clone := d.WithModel("qwen3").(*Driver)
	if clone.client != d.client || d.Model() != "llama3.1" {
		t.Fatalf("clone should share the client and leave the original model")
	}
	if _, err := clone.Chat(context.Background(), &llm.Request{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.body.Model != "qwen3" {
		t.Errorf("expected model qwen3, got %q", rec.body.Model)
	}
}

func TestFactory(t *testing.T) {
	d, err := Factory(context.Background(), llm.DriverConfig{Kind: "ollama", Model: "qwen3", DisableTools: true})
	if err != nil {
		t.Fatalf("Factory: %v", err)
	}
	if d.Name() != "ollama" || d.SupportsToolCalling() {
		t.Errorf("unexpected driver %s tools=%v", d.Name(), d.SupportsToolCalling())
	}
	if d.(*Driver).Model() != "qwen3" {
		t.Errorf("unexpected model %q", d.(*Driver).Model())
	}
	if _, err := Factory(context.Background(), llm.DriverConfig{Kind: "ollama", BaseURL: "http://[::1"}); err == nil {
		t.Error("expected an error for a malformed base url")
	}
}
