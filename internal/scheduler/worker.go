package scheduler

import (
	"context"

	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Worker processes queued tasks. Failed handlers are retried by asynq with
// exponential backoff.
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	history *repository.History
	log     *logger.Logger
}

// NewWorker creates the task worker bound to the configured Redis queue.
func NewWorker(cfg config.SchedulerConfig, pool *pgxpool.Pool, log *logger.Logger) (*Worker, error) {
	opt, err := redisClientOpt(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		history: repository.NewHistory(pool),
		log:     log,
	}

	mux.HandleFunc(TaskHistoryAppendRetry, w.handleHistoryAppendRetry)

	return w, nil
}

func (w *Worker) handleHistoryAppendRetry(ctx context.Context, task *asynq.Task) error {
	params, err := ParseHistoryAppendRetryPayload(task)
	if err != nil {
		// Malformed payloads never succeed; drop rather than retry forever.
		w.log.Error("malformed history retry payload", "error", err)
		return nil
	}

	if err := w.history.Append(ctx, params); err != nil {
		w.log.Error("history retry append failed",
			"lead_id", params.LeadID,
			"to", params.ToStatus,
			"error", err,
		)
		return err
	}

	w.log.Info("history retry append succeeded", "lead_id", params.LeadID, "to", params.ToStatus)
	return nil
}

// Run starts the worker and blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.server == nil {
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()

	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return nil
	case err := <-errCh:
		return err
	}
}
