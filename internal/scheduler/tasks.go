// Package scheduler provides durable background task processing on asynq.
// Its single job today is replaying audit history writes that failed at
// transition time, so the append-only log eventually holds every committed
// transition.
package scheduler

import (
	"encoding/json"

	"leadflow_backend/internal/leads/repository"

	"github.com/hibiken/asynq"
)

// TaskHistoryAppendRetry replays a lead history entry whose synchronous
// write failed.
const TaskHistoryAppendRetry = "history:append_retry"

// NewHistoryAppendRetryTask builds the retry task for a failed history write.
func NewHistoryAppendRetryTask(params repository.AppendHistoryParams) (*asynq.Task, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskHistoryAppendRetry, payload), nil
}

// ParseHistoryAppendRetryPayload decodes the retry task payload.
func ParseHistoryAppendRetryPayload(task *asynq.Task) (repository.AppendHistoryParams, error) {
	var params repository.AppendHistoryParams
	if err := json.Unmarshal(task.Payload(), &params); err != nil {
		return repository.AppendHistoryParams{}, err
	}
	return params, nil
}
