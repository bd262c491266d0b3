package queue

import (
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestQueueNames(t *testing.T) {
	n := QueueNames("reply_jobs")
	if n.Main != "reply_jobs" || n.Retry != "reply_jobs.retry" || n.DLQ != "reply_jobs.dlq" {
		t.Fatalf("unexpected names: %+v", n)
	}
}

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(base, tc.attempt); got != tc.want {
			t.Fatalf("Backoff(base, %d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestAttemptFromDelivery(t *testing.T) {
	if got := AttemptFromDelivery(amqp.Delivery{}); got != 1 {
		t.Fatalf("missing header should mean attempt 1, got %d", got)
	}
	d := amqp.Delivery{Headers: amqp.Table{HeaderAttempt: int32(3)}}
	if got := AttemptFromDelivery(d); got != 3 {
		t.Fatalf("expected attempt 3, got %d", got)
	}
	d = amqp.Delivery{Headers: amqp.Table{HeaderAttempt: int64(2)}}
	if got := AttemptFromDelivery(d); got != 2 {
		t.Fatalf("expected attempt 2 from int64 header, got %d", got)
	}
	d = amqp.Delivery{Headers: amqp.Table{HeaderAttempt: "garbage"}}
	if got := AttemptFromDelivery(d); got != 1 {
		t.Fatalf("unparseable header should fall back to 1, got %d", got)
	}
}

func TestJobMessageRoundTrip(t *testing.T) {
	b, err := json.Marshal(JobMessage{JobID: "01HTESTJOB0000000000000000"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m JobMessage
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.JobID != "01HTESTJOB0000000000000000" {
		t.Fatalf("job id lost: %q", m.JobID)
	}
}
