package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Task types processed by the worker
const (
	TypeWelcomeEmail  = "welcome_email"
	TypeSecurityAlert = "security_alert"
	TypeDailyReport   = "daily_report"
)

// Task is the unit of work pushed onto the Redis queue. Payload is
// type-specific JSON decoded by the matching handler.
type Task struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Enqueued time.Time       `json:"enqueued"`
}

// WelcomeEmailPayload greets a newly provisioned account
type WelcomeEmailPayload struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
}

// SecurityAlertPayload notifies an account holder their account was locked
type SecurityAlertPayload struct {
	AccountID   string    `json:"account_id"`
	Email       string    `json:"email"`
	IPAddress   string    `json:"ip_address"`
	LockedUntil time.Time `json:"locked_until"`
}

// DailyReportPayload requests the authentication summary for one day
type DailyReportPayload struct {
	Since time.Time `json:"since"`
}

// Queue is a Redis-backed FIFO task queue. Producers LPUSH, the worker BRPOP.
type Queue struct {
	client *redis.Client
	name   string
}

func NewQueue(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name}
}

// Enqueue serializes the payload and pushes a task onto the queue
func (q *Queue) Enqueue(ctx context.Context, taskType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := Task{
		ID:       uuid.New().String(),
		Type:     taskType,
		Payload:  raw,
		Enqueued: time.Now(),
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.client.LPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	return nil
}

// Dequeue blocks up to timeout waiting for the next task. Returns (nil, nil)
// when the timeout elapses with nothing queued.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	result, err := q.client.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}

	// BRPop returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length: %d", len(result))
	}

	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

// Len returns the number of pending tasks
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}
