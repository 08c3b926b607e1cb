package queue

import (
	"log"

	"github.com/hibiken/asynq"
)

// Queue wraps the Asynq client and handler mux
type Queue struct {
	Client *asynq.Client
	Mux    *asynq.ServeMux
}

// NewQueue creates a new queue client and handler mux
func NewQueue(redisURL string) (*Queue, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}

	client := asynq.NewClient(redisOpt)
	mux := asynq.NewServeMux()

	log.Println("Queue client and handler mux initialized")

	return &Queue{
		Client: client,
		Mux:    mux,
	}, nil
}

// ServerConfig returns the connection options and server configuration
// for running a worker against this queue.
func ServerConfig(redisURL string, concurrency int) (asynq.RedisConnOpt, asynq.Config, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, asynq.Config{}, err
	}

	cfg := asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	}

	return redisOpt, cfg, nil
}

// Close gracefully closes the queue client
func (q *Queue) Close() error {
	if q.Client != nil {
		log.Println("Closing queue client...")
		return q.Client.Close()
	}
	return nil
}
