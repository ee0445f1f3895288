package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"strings"
	"testing"

	"ipamclient/internal/kinds"
	"ipamclient/internal/repository/sqlite"
	"ipamclient/internal/store"
)

func TestPrintTree(t *testing.T) {
	ctx := context.Background()
	reg := kinds.NewRegistry()
	repo, err := sqlite.New(":memory:", reg, sqlite.WithAttributeTypes(kinds.AttributeTypes...))
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	defer repo.Close()
	s, err := store.New(repo, reg, store.WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if _, err := kinds.AddView(ctx, s.Root(), "lab"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf bytes.Buffer
	printTree(&buf, s.Root(), 1, true)
	out := buf.String()

	if !strings.Contains(out, "\n  view:") {
		t.Errorf("expected the view indented below the root, got:\n%s", out)
	}
	if !strings.Contains(out, "name = lab") {
		t.Errorf("expected the view name attribute, got:\n%s", out)
	}
	if strings.Contains(out, "network tree") {
		t.Errorf("expected depth 1 to stop above the network trees, got:\n%s", out)
	}
}

func TestFetchDepth(t *testing.T) {
	tests := []struct{ in, want int }{{-1, -1}, {0, 1}, {3, 4}}
	for _, tt := range tests {
		if got := fetchDepth(tt.in); got != tt.want {
			t.Errorf("fetchDepth(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
