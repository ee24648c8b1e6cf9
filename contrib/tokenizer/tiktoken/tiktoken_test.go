package tiktoken

import "testing"

// newOrSkip loads an encoding. The BPE ranks are fetched on first use, so the
// test is skipped when they cannot be loaded.
func newOrSkip(t *testing.T, name string) *Tokenizer {
	t.Helper()
	tok, err := New(name)
	if err != nil {
		t.Skipf("encoding %q unavailable: %v", name, err)
	}
	return tok
}

func TestCountTokens(t *testing.T) {
	tok := newOrSkip(t, "")

	if got := tok.CountTokens(""); got != 0 {
		t.Errorf("empty text: got %d tokens", got)
	}
	text := "SELECT count(*) FROM users WHERE active"
	ids := tok.Encode(text)
	if got := tok.CountTokens(text); got != len(ids) || got == 0 {
		t.Errorf("CountTokens = %d, want %d", got, len(ids))
	}
	if got := tok.Decode(ids); got != text {
		t.Errorf("Decode round trip = %q", got)
	}
}

func TestNewByModelName(t *testing.T) {
	tok := newOrSkip(t, "gpt-4o")
	if tok.CountTokens("hello world") <= 0 {
		t.Error("expected a positive token count")
	}
}

func TestNewUnknownEncoding(t *testing.T) {
	if _, err := New("no-such-encoding"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}
