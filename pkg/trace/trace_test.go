package trace

import (
	"context"
	"testing"
)

func TestEnsureKeepsExistingID(t *testing.T) {
	ctx := WithContext(context.Background(), "abc")
	got, id := Ensure(ctx)
	if id != "abc" || FromContext(got) != "abc" {
		t.Fatalf("expected existing id, got %q", id)
	}
}

func TestEnsureGeneratesID(t *testing.T) {
	ctx, id := Ensure(context.Background())
	if id == "" {
		t.Fatal("expected generated id")
	}
	if FromContext(ctx) != id {
		t.Fatalf("context id = %q, want %q", FromContext(ctx), id)
	}
}
