package provider

import (
	"context"
	"errors"
	"testing"

	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/llm"
)

func TestFactoriesCoverKinds(t *testing.T) {
	factories := Factories()
	for _, kind := range Kinds() {
		if _, ok := factories[kind]; !ok {
			t.Errorf("missing factory for %q", kind)
		}
	}
}

func TestNewManagerResolvesDrivers(t *testing.T) {
	m := NewManager(llm.Config{
		Default: "local",
		Drivers: map[string]llm.DriverConfig{
			"local": {Kind: KindOllama, Model: "llama3.1"},
			"groq":  {Kind: KindGroq, APIKey: "gsk-test", Model: "llama-3.3-70b-versatile"},
			"cloud": {Kind: KindAnthropic},
		},
	})

	d, err := m.Driver(context.Background(), "")
	if err != nil {
		t.Fatalf("default driver: %v", err)
	}
	if d.Name() != "ollama" {
		t.Errorf("expected ollama, got %q", d.Name())
	}

	g, err := m.Driver(context.Background(), "groq")
	if err != nil {
		t.Fatalf("groq driver: %v", err)
	}
	if g.Name() != "groq" {
		t.Errorf("expected groq, got %q", g.Name())
	}

	_, err = m.Driver(context.Background(), "cloud")
	var cfgErr *errorskg.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for missing key, got %v", err)
	}
}
