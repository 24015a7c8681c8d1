package tasks

import (
	"context"
	"log/slog"
	"time"
)

const dequeueTimeout = 5 * time.Second

// HandlerFunc processes one task's payload
type HandlerFunc func(ctx context.Context, payload []byte) error

// Worker drains the queue and dispatches tasks to registered handlers.
// A failed task is logged and dropped; the queue carries notifications and
// reports, nothing that the login path depends on.
type Worker struct {
	queue    *Queue
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

func NewWorker(queue *Queue, logger *slog.Logger) *Worker {
	return &Worker{
		queue:    queue,
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Register binds a handler to a task type. Not safe to call after Run starts.
func (w *Worker) Register(taskType string, handler HandlerFunc) {
	w.handlers[taskType] = handler
}

// Run processes tasks until the context is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("task worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("task worker stopping")
			return ctx.Err()
		default:
		}

		task, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("task worker stopping")
				return ctx.Err()
			}
			w.logger.Error("failed to dequeue task", slog.Any("error", err))
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}

		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task *Task) {
	handler, ok := w.handlers[task.Type]
	if !ok {
		w.logger.Warn("no handler for task type",
			slog.String("task_id", task.ID),
			slog.String("task_type", task.Type))
		return
	}

	start := time.Now()
	if err := handler(ctx, task.Payload); err != nil {
		w.logger.Error("task failed",
			slog.String("task_id", task.ID),
			slog.String("task_type", task.Type),
			slog.Any("error", err))
		return
	}

	w.logger.Info("task completed",
		slog.String("task_id", task.ID),
		slog.String("task_type", task.Type),
		slog.Duration("duration", time.Since(start)))
}
