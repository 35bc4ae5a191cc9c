package reqctx

import (
	"context"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	ctx := WithUID(WithRID(context.Background(), "rid-1"), "uid-1")
	if got := RID(ctx); got != "rid-1" {
		t.Fatalf("RID=%q", got)
	}
	if got := UID(ctx); got != "uid-1" {
		t.Fatalf("UID=%q", got)
	}
	if RID(context.Background()) != "" || UID(context.Background()) != "" {
		t.Fatal("empty context should yield empty values")
	}
}
