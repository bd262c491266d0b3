// Package queue wraps the RabbitMQ transport used as the decoupling buffer
// between reply submission and the worker pool: a priority-aware main queue,
// a TTL-based retry queue that dead-letters back to main, and a DLQ for jobs
// that exhausted their retry budget.
package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// PriorityHigh is normal chat traffic, PriorityLow is background/test
	// traffic. Priority affects draw order only, never correctness.
	PriorityHigh uint8 = 8
	PriorityLow  uint8 = 2

	maxPriority = 10

	// delivery headers
	HeaderAttempt  = "x-attempt"
	HeaderFailKind = "x-fail-kind"
)

// JobMessage is the whole queue payload. The job row is the source of truth;
// the queue only moves ids around.
type JobMessage struct {
	JobID string `json:"job_id"`
}

type Names struct {
	Main  string
	Retry string
	DLQ   string
}

func QueueNames(base string) Names {
	return Names{Main: base, Retry: base + ".retry", DLQ: base + ".dlq"}
}

// DeclareTopology sets up the three queues. Safe to call from every process;
// declarations are idempotent as long as the arguments match.
func DeclareTopology(ch *amqp.Channel, names Names) error {
	if _, err := ch.QueueDeclare(names.DLQ, true, false, false, false, nil); err != nil {
		return err
	}

	// retry queue: per-message TTL, expired messages dead-letter back to main
	if _, err := ch.QueueDeclare(names.Retry, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": names.Main,
	}); err != nil {
		return err
	}

	// main queue: priority draw order, rejected messages land in the DLQ
	if _, err := ch.QueueDeclare(names.Main, true, false, false, false, amqp.Table{
		"x-max-priority":            int32(maxPriority),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": names.DLQ,
	}); err != nil {
		return err
	}
	return nil
}

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	names Names

	backoffBase time.Duration
}

func NewPublisher(url, queueBase string, backoffBase time.Duration) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	names := QueueNames(queueBase)
	if err := DeclareTopology(ch, names); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if backoffBase <= 0 {
		backoffBase = 2 * time.Second
	}
	return &Publisher{conn: conn, ch: ch, names: names, backoffBase: backoffBase}, nil
}

// Channel exposes the underlying AMQP channel for the admin surface.
func (p *Publisher) Channel() *amqp.Channel { return p.ch }

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishJob enqueues a first delivery on the main queue.
func (p *Publisher) PublishJob(ctx context.Context, jobID string, priority uint8) error {
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",           // default exchange
		p.names.Main, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Priority:     priority,
			Body:         body,
			Timestamp:    time.Now(),
			Headers:      amqp.Table{HeaderAttempt: int32(1)},
		},
	)
}

// PublishRetry parks the job on the retry queue with a TTL equal to its
// backoff delay; expiry dead-letters it back onto the main queue for the
// next attempt.
func (p *Publisher) PublishRetry(ctx context.Context, jobID string, nextAttempt int, priority uint8, failKind string) error {
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return err
	}

	delay := Backoff(p.backoffBase, nextAttempt)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",
		p.names.Retry,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Priority:     priority,
			Body:         body,
			Timestamp:    time.Now(),
			Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
			Headers: amqp.Table{
				HeaderAttempt:  int32(nextAttempt),
				HeaderFailKind: failKind,
			},
		},
	)
}

// Backoff is exponential: base, 2*base, 4*base, ... for attempt 2, 3, 4, ...
// (attempt is the 1-based number of the delivery being scheduled).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 2 {
		return base
	}
	return base << (attempt - 2)
}

// AttemptFromDelivery reads the 1-based attempt header; a message without the
// header counts as the first attempt.
func AttemptFromDelivery(d amqp.Delivery) int {
	if d.Headers == nil {
		return 1
	}
	switch v := d.Headers[HeaderAttempt].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 1
	}
}
