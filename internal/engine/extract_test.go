package engine

import (
	"testing"

	"github.com/notuslabs/agentflow/internal/memory"
)

func TestExtractMemoriesName(t *testing.T) {
	entries := extractMemories("u1", "Hi, my name is Ada Lovelace. Build me a site.", "")
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want 1", entries)
	}
	e := entries[0]
	if e.Type != memory.TypeFact || e.Key != "name" {
		t.Fatalf("entry = %+v", e)
	}
	if e.Value != "Ada Lovelace" {
		t.Fatalf("value = %q, want name without trailing sentence", e.Value)
	}
	if e.Importance != 7 || e.Source != "agent" {
		t.Fatalf("entry metadata = %+v", e)
	}
}

func TestExtractMemoriesPreference(t *testing.T) {
	entries := extractMemories("u1", "I prefer dark mode in every app! Also make it fast.", "")
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want 1", entries)
	}
	if entries[0].Type != memory.TypePreference || entries[0].Key != "preference" {
		t.Fatalf("entry = %+v", entries[0])
	}
	if entries[0].Value != "dark mode in every app" {
		t.Fatalf("value = %q", entries[0].Value)
	}
}

func TestExtractMemoriesNote(t *testing.T) {
	entries := extractMemories("u1", "remember that the demo is on Friday.", "")
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want 1", entries)
	}
	if entries[0].Type != memory.TypeContext || entries[0].Key != "note" {
		t.Fatalf("entry = %+v", entries[0])
	}
	if entries[0].Value != "the demo is on Friday" {
		t.Fatalf("value = %q", entries[0].Value)
	}
}

func TestExtractMemoriesCaseInsensitive(t *testing.T) {
	entries := extractMemories("u1", "MY NAME IS grace", "")
	if len(entries) != 1 || entries[0].Value != "grace" {
		t.Fatalf("entries = %v", entries)
	}
}

func TestExtractMemoriesDedupesAcrossTexts(t *testing.T) {
	entries := extractMemories("u1",
		"my name is Ada",
		"Understood. For the record: my name is ADA.")
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want deduplicated single entry", entries)
	}
}

func TestExtractMemoriesMultiplePatterns(t *testing.T) {
	entries := extractMemories("u1",
		"my name is Ada and I prefer vim",
		"remember that backups run nightly.")
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	types := map[memory.EntryType]bool{}
	for _, e := range entries {
		types[e.Type] = true
	}
	if !types[memory.TypeFact] || !types[memory.TypePreference] || !types[memory.TypeContext] {
		t.Fatalf("types = %v", types)
	}
}

func TestExtractMemoriesNoMatches(t *testing.T) {
	if entries := extractMemories("u1", "build a todo app", "done"); len(entries) != 0 {
		t.Fatalf("entries = %v, want none", entries)
	}
}
