package worker

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/roomtalk/internal/queue"
)

// StatCounter is the shared pause flag plus the active/completed/failed
// counters the admin surface reads.
type StatCounter interface {
	JobStarted(ctx context.Context)
	JobCompleted(ctx context.Context)
	JobFailed(ctx context.Context)
	JobDeferred(ctx context.Context)
	IsPaused(ctx context.Context) bool
}

// Pool consumes the main queue with a fixed number of concurrent workers.
// A delivery goes to exactly one worker; workers never coordinate with each
// other beyond the broker's delivery guarantee.
type Pool struct {
	ch          *amqp.Channel
	queueName   string
	concurrency int
	handler     *Handler
	counters    StatCounter
	log         zerolog.Logger
}

func NewPool(ch *amqp.Channel, queueBase string, concurrency int, handler *Handler, counters StatCounter, log zerolog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 10
	}
	if concurrency > 50 {
		concurrency = 50
	}
	return &Pool{
		ch:          ch,
		queueName:   queue.QueueNames(queueBase).Main,
		concurrency: concurrency,
		handler:     handler,
		counters:    counters,
		log:         log,
	}
}

// Run blocks until ctx is canceled. In-flight jobs finish before it returns;
// unacked deliveries of a crashed worker are redelivered by the broker.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.ch.Qos(p.concurrency, 0, false); err != nil {
		return err
	}

	deliveries, err := p.ch.Consume(p.queueName, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	p.log.Info().Str("queue", p.queueName).Int("concurrency", p.concurrency).Msg("worker pool started")

	work := make(chan amqp.Delivery)
	done := make(chan struct{})

	for i := 0; i < p.concurrency; i++ {
		go func(workerID int) {
			for d := range work {
				p.process(ctx, workerID, d)
			}
			done <- struct{}{}
		}(i)
	}

	shutdown := func() {
		close(work)
		for i := 0; i < p.concurrency; i++ {
			<-done
		}
		p.log.Info().Msg("worker pool drained")
	}

	for {
		select {
		case <-ctx.Done():
			shutdown()
			return nil

		case d, ok := <-deliveries:
			if !ok {
				shutdown()
				return amqp.ErrClosed
			}
			if p.counters != nil && p.counters.IsPaused(ctx) {
				// hand it back and idle; resume picks it up again
				_ = d.Nack(false, true)
				time.Sleep(time.Second)
				continue
			}
			work <- d
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID int, d amqp.Delivery) {
	var m queue.JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		p.log.Error().Err(err).Int("worker", workerID).Msg("malformed delivery, dead-lettering")
		_ = d.Nack(false, false)
		return
	}

	attempt := queue.AttemptFromDelivery(d)

	switch p.handler.Handle(ctx, m.JobID, attempt) {
	case OutcomeAck:
		if err := d.Ack(false); err != nil {
			p.log.Error().Err(err).Str("job_id", m.JobID).Msg("ack failed")
		}
	case OutcomeDead:
		_ = d.Nack(false, false)
	case OutcomeRequeue:
		_ = d.Nack(false, true)
	}
}
