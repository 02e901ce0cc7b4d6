package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tech-Tweakers/polaris-core/internal/inference"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	in := Record{
		ID:         "gen-1",
		CreatedAt:  time.Unix(1700000000, 5),
		Prompt:     "hello",
		Output:     `{"done": true}`,
		StopReason: string(inference.StopStructure),
		Stats: inference.Stats{
			PromptTokens:    12,
			TokensGenerated: 7,
			Submit:          inference.SubmitStats{Attempts: 9, Retries: 1, Tokens: 19},
		},
	}
	if err := s.Record(ctx, in); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.Get(ctx, "gen-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Output != in.Output || got.StopReason != in.StopReason || !got.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("got %+v", got)
	}
	if got.Stats.TokensGenerated != 7 || got.Stats.Submit.Retries != 1 {
		t.Fatalf("stats: %+v", got.Stats)
	}
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i, id := range []string{"a", "b", "c"} {
		if err := s.Record(ctx, Record{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Second), Prompt: id}); err != nil {
			t.Fatalf("Record %s: %v", id, err)
		}
	}
	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("recent: %+v", got)
	}
	if _, err := s.Recent(ctx, 0); err == nil {
		t.Fatal("expected error for zero limit")
	}
}

func TestRecordRejects(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, Record{}); err == nil {
		t.Fatal("expected error for empty id")
	}
	if err := s.Record(ctx, Record{ID: "x", Error: "decode failed"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(ctx, Record{ID: "x"}); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
	got, err := s.Get(ctx, "x")
	if err != nil || got.Error != "decode failed" {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestOpenEmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(""); err == nil {
		t.Fatal("expected error")
	}
}
