package runtimeconfig

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/loopworks/agentengine/state/memory"
	"github.com/loopworks/agentengine/state/sqlite"
)

func TestOpenStoreMemory(t *testing.T) {
	store, err := OpenStore(StoreConfig{})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("store type %T, want *memory.Store", store)
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := OpenStore(StoreConfig{Kind: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*sqlite.Store); !ok {
		t.Fatalf("store type %T, want *sqlite.Store", store)
	}
}

func TestOpenStoreUnknownKind(t *testing.T) {
	if _, err := OpenStore(StoreConfig{Kind: "dynamo"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestAgentOptionsResolve(t *testing.T) {
	cfg := Default()
	cfg.SystemPrompt = "be terse"
	cfg.Tools = []string{"@core"}
	cfg.EndStrategy = "first_tool"
	cfg.Limits.MaxRequests = 5
	cfg.ToolTimeout = 10 * time.Second

	store := memory.New()
	defer store.Close()

	opts, err := cfg.AgentOptions(store)
	if err != nil {
		t.Fatalf("AgentOptions: %v", err)
	}
	if len(opts) == 0 {
		t.Fatal("no options produced")
	}
}

func TestAgentOptionsUnknownTool(t *testing.T) {
	cfg := Default()
	cfg.Tools = []string{"no_such_tool"}
	if _, err := cfg.AgentOptions(nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestAgentOptionsUnknownStrategy(t *testing.T) {
	cfg := Default()
	cfg.EndStrategy = "sometimes"
	if _, err := cfg.AgentOptions(nil); err == nil {
		t.Fatal("expected error for unknown end strategy")
	}
}
