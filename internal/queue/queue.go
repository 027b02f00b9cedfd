package queue

import (
	"github.com/hibiken/asynq"
)

// Queue wraps the asynq client and handler mux.
type Queue struct {
	Client   *asynq.Client
	Mux      *asynq.ServeMux
	redisOpt asynq.RedisConnOpt
}

// New creates a queue client and handler mux from a redis URL.
func New(redisURL string) (*Queue, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}

	return &Queue{
		Client:   asynq.NewClient(redisOpt),
		Mux:      asynq.NewServeMux(),
		redisOpt: redisOpt,
	}, nil
}

// NewServer builds the asynq server that consumes tasks.
func (q *Queue) NewServer(concurrency int) *asynq.Server {
	return asynq.NewServer(q.redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	})
}

// NewScheduler builds the scheduler that emits periodic tasks (the
// stale-pending sweep).
func (q *Queue) NewScheduler() *asynq.Scheduler {
	return asynq.NewScheduler(q.redisOpt, &asynq.SchedulerOpts{})
}

// Close gracefully closes the queue client.
func (q *Queue) Close() error {
	if q.Client != nil {
		return q.Client.Close()
	}
	return nil
}
