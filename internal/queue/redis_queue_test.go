package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tts-pipeline/internal/models"
)

func newTestQueue(t *testing.T, visibility time.Duration) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(client, "tts_jobs_test", visibility)
}

func TestPublishDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 30*time.Second)

	msg := models.JobMessage{
		JobID:     "tts-abc",
		Text:      "Squat. 30 seconds.",
		VoiceID:   "coach",
		Timestamp: time.Now().UTC(),
	}
	if err := q.Publish(ctx, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	depth, err := q.Depth(ctx)
	if err != nil || depth != 1 {
		t.Fatalf("expected depth 1, got %d err=%v", depth, err)
	}

	body, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if body == nil {
		t.Fatal("expected a message body")
	}

	var got models.JobMessage
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if got.JobID != msg.JobID || got.Text != msg.Text {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	// The ready list is drained while the message is in flight.
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Fatalf("expected depth 0 after dequeue, got %d", depth)
	}
	if next, _ := q.Dequeue(ctx); next != nil {
		t.Fatalf("expected empty queue, got %s", next)
	}

	if err := q.Ack(ctx, body); err != nil {
		t.Fatalf("ack: %v", err)
	}
	redelivered, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if redelivered != 0 {
		t.Fatalf("acked message must not be redelivered, got %d", redelivered)
	}
}

func TestRequeueExpiredRedelivers(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 10*time.Millisecond)

	if err := q.Publish(ctx, models.JobMessage{JobID: "tts-redeliver", Text: "hi"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	body, err := q.Dequeue(ctx)
	if err != nil || body == nil {
		t.Fatalf("dequeue: body=%s err=%v", body, err)
	}

	// Lease not yet expired: nothing to reclaim.
	if n, _ := q.RequeueExpired(ctx, time.Now().Add(-time.Second), 10); n != 0 {
		t.Fatalf("expected no reclaim before deadline, got %d", n)
	}

	n, err := q.RequeueExpired(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 redelivery, got %d", n)
	}

	again, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue after redelivery: %v", err)
	}
	if string(again) != string(body) {
		t.Fatalf("redelivered body differs: %s vs %s", again, body)
	}
}

func TestDequeueEmpty(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Second)

	body, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue on empty queue: %v", err)
	}
	if body != nil {
		t.Fatalf("expected nil body, got %s", body)
	}
}
