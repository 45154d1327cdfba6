package store

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/spigell/autoapply/internal/posting"
)

type snapshot struct {
	UserID string    `json:"user_id"`
	Daily  int       `json:"daily"`
	Next   time.Time `json:"next"`
}

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	r := NewRedis(client, "test:")
	t.Cleanup(func() { _ = r.Close() })
	return r, srv
}

func TestRedisState(t *testing.T) {
	r, srv := newRedis(t)
	ctx := context.Background()

	var missing snapshot
	found, err := r.LoadState(ctx, "alice", &missing)
	if err != nil || found {
		t.Fatalf("expected no state, got found=%v err=%v", found, err)
	}

	want := snapshot{UserID: "alice", Daily: 3, Next: time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)}
	if err := r.SaveState(ctx, "alice", want); err != nil {
		t.Fatal(err)
	}
	if !srv.Exists("test:state:alice") {
		t.Fatalf("expected namespaced state key")
	}

	var got snapshot
	found, err = r.LoadState(ctx, "alice", &got)
	if err != nil || !found {
		t.Fatalf("expected stored state, got found=%v err=%v", found, err)
	}
	if got.UserID != want.UserID || got.Daily != want.Daily || !got.Next.Equal(want.Next) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestRedisApplied(t *testing.T) {
	r, srv := newRedis(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)

	for _, url := range []string{"https://board.example/1", "https://board.example/2", "https://board.example/1"} {
		if err := r.RecordApplied(ctx, "alice", &posting.Posting{URL: url}, at); err != nil {
			t.Fatal(err)
		}
	}

	urls, err := r.AppliedURLs(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(urls)
	if len(urls) != 2 || urls[0] != "https://board.example/1" {
		t.Fatalf("unexpected applied urls %v", urls)
	}
	if got := srv.HGet("test:applied_at:alice", "https://board.example/2"); got != "2024-06-05T12:00:00Z" {
		t.Fatalf("unexpected applied timestamp %q", got)
	}

	other, err := r.AppliedURLs(ctx, "bob")
	if err != nil || len(other) != 0 {
		t.Fatalf("expected no urls for another user, got %v (%v)", other, err)
	}
}

func TestConnectFailures(t *testing.T) {
	if _, err := Connect(context.Background(), "not a url", ""); err == nil {
		t.Fatalf("expected invalid url to fail")
	}

	srv := miniredis.RunT(t)
	r, err := Connect(context.Background(), "redis://"+srv.Addr(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Key("state", "alice") != "autoapply:state:alice" {
		t.Fatalf("unexpected key %s", r.Key("state", "alice"))
	}
}

func TestFileLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "applied.json")
	ledger := NewFileLedger(path)
	ctx := context.Background()
	at := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)

	if urls, err := ledger.AppliedURLs(ctx, "alice"); err != nil || len(urls) != 0 {
		t.Fatalf("expected empty ledger, got %v (%v)", urls, err)
	}
	if err := ledger.RecordApplied(ctx, "alice", &posting.Posting{ID: "1", URL: "https://board.example/1"}, at); err != nil {
		t.Fatal(err)
	}
	if err := ledger.RecordApplied(ctx, "bob", &posting.Posting{ID: "2", URL: "https://board.example/2"}, at); err != nil {
		t.Fatal(err)
	}

	urls, err := ledger.AppliedURLs(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(urls) != 1 || urls[0] != "https://board.example/1" {
		t.Fatalf("unexpected urls %v", urls)
	}
}
