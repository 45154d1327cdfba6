package activity

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct{ events []Event }

func (r *recorder) Record(e Event) { r.events = append(r.events, e) }

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestMultiAndZap(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	rec := &recorder{}
	log := Multi{NewZap(zap.New(core)), nil, rec, Nop{}}

	log.Record(Event{Kind: WorkflowStarted, UserID: "alice", ExecutionID: "exec-1"})
	log.Record(Event{Kind: ApplicationFailed, UserID: "alice", PostingID: "42", Message: "captcha"})

	if len(rec.events) != 2 {
		t.Fatalf("expected both events to reach the recorder, got %d", len(rec.events))
	}
	entries := logs.FilterMessage("activity").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected failures to be logged as warnings, got %s", entries[1].Level)
	}
	ctx := entries[0].ContextMap()
	if ctx["user_id"] != "alice" || ctx["execution_id"] != "exec-1" || ctx["kind"] != string(WorkflowStarted) {
		t.Fatalf("unexpected context %v", ctx)
	}
}

func TestRedisLogWritesStream(t *testing.T) {
	client := newClient(t)
	log := NewRedis(client, "autoapply:activity", 8, nil)

	log.Record(Event{Kind: AutomationEnabled, UserID: "alice"})
	log.Record(Event{Kind: ApplicationSubmitted, UserID: "alice", PostingID: "42", At: time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := log.Close(ctx); err != nil {
		t.Fatal(err)
	}

	msgs, err := client.XRange(context.Background(), "autoapply:activity", "-", "+").Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || log.Written() != 2 {
		t.Fatalf("expected 2 stream entries, got %d (written %d)", len(msgs), log.Written())
	}

	var got Event
	if err := json.Unmarshal([]byte(msgs[1].Values["event"].(string)), &got); err != nil {
		t.Fatal(err)
	}
	if got.Kind != ApplicationSubmitted || got.PostingID != "42" || got.ID == "" {
		t.Fatalf("unexpected event %+v", got)
	}
	if msgs[0].Values["kind"] != string(AutomationEnabled) {
		t.Fatalf("unexpected kind field %v", msgs[0].Values["kind"])
	}

	log.Record(Event{Kind: WorkflowStarted, UserID: "alice"})
	if log.Dropped() != 1 {
		t.Fatalf("expected events after close to be dropped")
	}
}

func TestRedisLogDropsWhenFull(t *testing.T) {
	client := newClient(t)
	log := newRedis(client, "activity", 1, nil)

	log.Record(Event{Kind: WorkflowStarted, UserID: "alice"})
	log.Record(Event{Kind: WorkflowCompleted, UserID: "alice"})
	if log.Dropped() != 1 {
		t.Fatalf("expected one dropped event, got %d", log.Dropped())
	}

	go log.run()
	if err := log.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := client.XLen(context.Background(), "activity").Val(); n != 1 {
		t.Fatalf("expected the buffered event to be flushed, got %d", n)
	}
}
