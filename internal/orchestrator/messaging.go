package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event types published on a run stream.
const (
	EventTaskStarted   = "task_started"
	EventTaskCompleted = "task_completed"
	EventRunFinished   = "run_finished"
)

// RunEvent is a live progress event for one run.
type RunEvent struct {
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Task      string    `json:"task,omitempty"`
	Success   bool      `json:"success,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageBus streams run events through Redis Streams.
type MessageBus struct {
	rdb    *redis.Client
	maxLen int64
	logger *zap.Logger
}

const streamPrefix = "nora:run:"

// NewMessageBus creates a Redis-backed message bus.
func NewMessageBus(redisURL string, logger *zap.Logger) (*MessageBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &MessageBus{rdb: rdb, maxLen: 1000, logger: logger}, nil
}

// Publish appends an event to its run's stream.
func (mb *MessageBus) Publish(ctx context.Context, ev *RunEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	stream := streamPrefix + ev.RunID
	_, err = mb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: mb.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	mb.logger.Debug("published run event",
		zap.String("run", ev.RunID),
		zap.String("type", ev.Type),
		zap.String("task", ev.Task))
	return nil
}

// History returns every event recorded for a run so far.
func (mb *MessageBus) History(ctx context.Context, runID string) ([]*RunEvent, error) {
	msgs, err := mb.rdb.XRange(ctx, streamPrefix+runID, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", streamPrefix+runID, err)
	}
	events := make([]*RunEvent, 0, len(msgs))
	for _, m := range msgs {
		if ev := decodeEvent(m); ev != nil {
			events = append(events, ev)
		}
	}
	return events, nil
}

// Subscribe follows a run's stream from its beginning until a run_finished
// event arrives or ctx is cancelled.
func (mb *MessageBus) Subscribe(ctx context.Context, runID string) <-chan *RunEvent {
	ch := make(chan *RunEvent, 16)
	stream := streamPrefix + runID

	go func() {
		defer close(ch)
		lastID := "0"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := mb.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					ev := decodeEvent(msg)
					if ev == nil {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
					if ev.Type == EventRunFinished {
						return
					}
				}
			}
		}
	}()

	return ch
}

func decodeEvent(msg redis.XMessage) *RunEvent {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil
	}
	var ev RunEvent
	if json.Unmarshal([]byte(data), &ev) != nil {
		return nil
	}
	return &ev
}

// Observer returns a scheduler observer publishing events for runID.
// Publish failures are logged and never affect the run.
func (mb *MessageBus) Observer(runID string) Observer {
	return &busObserver{bus: mb, runID: runID}
}

// RecordRun publishes the run_finished event.
func (mb *MessageBus) RecordRun(ctx context.Context, report *RunReport) error {
	ev := &RunEvent{
		RunID:   report.ID,
		Type:    EventRunFinished,
		Success: report.Succeeded(),
		Error:   report.Deadlock,
	}
	return mb.Publish(ctx, ev)
}

// Close shuts down the Redis connection.
func (mb *MessageBus) Close() error {
	return mb.rdb.Close()
}

type busObserver struct {
	bus   *MessageBus
	runID string
}

func (o *busObserver) TaskStarted(ctx context.Context, task *Task) {
	o.publish(ctx, &RunEvent{RunID: o.runID, Type: EventTaskStarted, Task: task.Name})
}

func (o *busObserver) TaskCompleted(ctx context.Context, task *Task, out *Outcome) {
	o.publish(ctx, &RunEvent{
		RunID:   o.runID,
		Type:    EventTaskCompleted,
		Task:    task.Name,
		Success: out.Success,
		Error:   out.Error,
	})
}

func (o *busObserver) publish(ctx context.Context, ev *RunEvent) {
	if err := o.bus.Publish(ctx, ev); err != nil {
		o.bus.logger.Warn("publish run event failed", zap.Error(err))
	}
}
