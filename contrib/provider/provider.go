// Package provider wires the built-in LLM drivers into an llm.Manager.
package provider

import (
	"github.com/sweetpotato0/askdb/contrib/provider/claude"
	"github.com/sweetpotato0/askdb/contrib/provider/gemini"
	"github.com/sweetpotato0/askdb/contrib/provider/ollama"
	"github.com/sweetpotato0/askdb/contrib/provider/openai"
	"github.com/sweetpotato0/askdb/llm"
)

// Driver kinds accepted in configuration.
const (
	KindOpenAI    = "openai"
	KindGroq      = "groq"
	KindAnthropic = "anthropic"
	KindOllama    = "ollama"
	KindGemini    = "gemini"
)

// Factories returns a factory for every built-in driver kind.
func Factories() map[string]llm.Factory {
	return map[string]llm.Factory{
		KindOpenAI:    openai.Factory(KindOpenAI, ""),
		KindGroq:      openai.Factory(KindGroq, openai.GroqBaseURL),
		KindAnthropic: claude.Factory,
		KindOllama:    ollama.Factory,
		KindGemini:    gemini.Factory,
	}
}

// Kinds lists the built-in driver kinds.
func Kinds() []string {
	return []string{KindAnthropic, KindGemini, KindGroq, KindOllama, KindOpenAI}
}

// NewManager returns a manager for cfg with every built-in driver registered.
// Additional options may add or replace factories.
func NewManager(cfg llm.Config, opts ...llm.ManagerOption) *llm.Manager {
	all := append([]llm.ManagerOption{llm.WithFactories(Factories())}, opts...)
	return llm.NewManager(cfg, all...)
}
