package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Stats is the operator view of one logical queue.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Dead      int64 `json:"dead"`
	Paused    bool  `json:"paused"`
}

// Admin exposes the administrative surface: stats, pause/resume, clean.
// Waiting/delayed/dead depths come from the broker; active/completed/failed
// are counters the workers keep in redis, and the pause flag also lives in
// redis so the API server and every worker see the same state.
type Admin struct {
	ch    *amqp.Channel
	rdb   *redis.Client
	names Names
}

func NewAdmin(ch *amqp.Channel, rdb *redis.Client, queueBase string) *Admin {
	return &Admin{ch: ch, rdb: rdb, names: QueueNames(queueBase)}
}

func pausedKey(base string) string    { return "queue:" + base + ":paused" }
func counterKey(base, c string) string { return "queue:" + base + ":" + c }

func (a *Admin) Stats(ctx context.Context) (*Stats, error) {
	var s Stats

	main, err := a.ch.QueueDeclarePassive(a.names.Main, true, false, false, false, amqp.Table{
		"x-max-priority":            int32(maxPriority),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": a.names.DLQ,
	})
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", a.names.Main, err)
	}
	s.Waiting = int64(main.Messages)

	retry, err := a.ch.QueueDeclarePassive(a.names.Retry, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": a.names.Main,
	})
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", a.names.Retry, err)
	}
	s.Delayed = int64(retry.Messages)

	dlq, err := a.ch.QueueDeclarePassive(a.names.DLQ, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", a.names.DLQ, err)
	}
	s.Dead = int64(dlq.Messages)

	for _, c := range []struct {
		name string
		dst  *int64
	}{
		{"active", &s.Active},
		{"completed", &s.Completed},
		{"failed", &s.Failed},
	} {
		n, err := a.rdb.Get(ctx, counterKey(a.names.Main, c.name)).Int64()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("counter %s: %w", c.name, err)
		}
		*c.dst = n
	}

	paused, err := a.rdb.Exists(ctx, pausedKey(a.names.Main)).Result()
	if err != nil {
		return nil, err
	}
	s.Paused = paused > 0

	return &s, nil
}

func (a *Admin) Pause(ctx context.Context) error {
	return a.rdb.Set(ctx, pausedKey(a.names.Main), "1", 0).Err()
}

func (a *Admin) Resume(ctx context.Context) error {
	return a.rdb.Del(ctx, pausedKey(a.names.Main)).Err()
}

// Clean purges waiting and dead messages. Running jobs are unaffected.
func (a *Admin) Clean(ctx context.Context) (int64, error) {
	_ = ctx
	var purged int64
	for _, q := range []string{a.names.Main, a.names.Retry, a.names.DLQ} {
		n, err := a.ch.QueuePurge(q, false)
		if err != nil {
			return purged, fmt.Errorf("purge %s: %w", q, err)
		}
		purged += int64(n)
	}
	return purged, nil
}

// Counters is the worker-side half of the stats bookkeeping.
type Counters struct {
	rdb  *redis.Client
	base string
}

func NewCounters(rdb *redis.Client, queueBase string) *Counters {
	return &Counters{rdb: rdb, base: queueBase}
}

func (c *Counters) JobStarted(ctx context.Context) {
	c.rdb.Incr(ctx, counterKey(c.base, "active"))
}

func (c *Counters) JobCompleted(ctx context.Context) {
	c.rdb.Decr(ctx, counterKey(c.base, "active"))
	c.rdb.Incr(ctx, counterKey(c.base, "completed"))
}

func (c *Counters) JobFailed(ctx context.Context) {
	c.rdb.Decr(ctx, counterKey(c.base, "active"))
	c.rdb.Incr(ctx, counterKey(c.base, "failed"))
}

// JobDeferred is a retry park: the job is neither done nor failed.
func (c *Counters) JobDeferred(ctx context.Context) {
	c.rdb.Decr(ctx, counterKey(c.base, "active"))
}

// IsPaused checks the shared pause flag. Fails open: if redis is unreachable
// the pipeline keeps draining rather than stalling.
func (c *Counters) IsPaused(ctx context.Context) bool {
	n, err := c.rdb.Exists(ctx, pausedKey(c.base)).Result()
	return err == nil && n > 0
}
