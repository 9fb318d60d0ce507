// Package notify forwards finished team runs to chat platforms.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/orchestrator"
)

// Field is one labelled value in a notification.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is a platform-neutral notification.
type Message struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Success bool    `json:"success"`
	Fields  []Field `json:"fields,omitempty"`
}

// Notifier delivers a message to one platform.
type Notifier interface {
	Platform() string
	Notify(ctx context.Context, msg *Message) error
}

// Record tracks a sent notification.
type Record struct {
	Message *Message  `json:"message"`
	SentAt  time.Time `json:"sent_at"`
	Targets []string  `json:"targets"`
}

// Broadcaster fans a message out to every registered notifier. It
// implements orchestrator.Recorder so it can be attached to a Coordinator.
type Broadcaster struct {
	mu        sync.Mutex
	notifiers []Notifier
	history   []Record
	logger    *zap.Logger
}

// NewBroadcaster creates a broadcaster over notifiers.
func NewBroadcaster(logger *zap.Logger, notifiers ...Notifier) *Broadcaster {
	return &Broadcaster{notifiers: notifiers, logger: logger}
}

// Add registers another notifier.
func (b *Broadcaster) Add(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifiers = append(b.notifiers, n)
	b.logger.Info("registered notifier", zap.String("platform", n.Platform()))
}

// Len returns the number of registered notifiers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notifiers)
}

// Send delivers msg to all notifiers concurrently. Every notifier is tried;
// the returned error joins the individual failures.
func (b *Broadcaster) Send(ctx context.Context, msg *Message) error {
	b.mu.Lock()
	targets := append([]Notifier(nil), b.notifiers...)
	b.mu.Unlock()
	if len(targets) == 0 {
		return nil
	}

	p := pool.New().WithErrors().WithContext(ctx)
	for _, n := range targets {
		p.Go(func(ctx context.Context) error {
			if err := n.Notify(ctx, msg); err != nil {
				b.logger.Error("notify failed", zap.String("platform", n.Platform()), zap.Error(err))
				return fmt.Errorf("%s: %w", n.Platform(), err)
			}
			return nil
		})
	}
	err := p.Wait()

	names := make([]string, len(targets))
	for i, n := range targets {
		names[i] = n.Platform()
	}
	b.mu.Lock()
	b.history = append(b.history, Record{Message: msg, SentAt: time.Now(), Targets: names})
	b.mu.Unlock()
	return err
}

// History returns up to limit recent records, oldest first.
func (b *Broadcaster) History(limit int) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	return append([]Record(nil), b.history[len(b.history)-limit:]...)
}

// RecordRun announces a finished run.
func (b *Broadcaster) RecordRun(ctx context.Context, report *orchestrator.RunReport) error {
	return b.Send(ctx, RunMessage(report))
}

// RunMessage summarizes a run report as a notification.
func RunMessage(report *orchestrator.RunReport) *Message {
	status := "succeeded"
	switch {
	case report.Deadlock != "":
		status = "deadlocked"
	case !report.Succeeded():
		status = "failed"
	}
	msg := &Message{
		Title:   fmt.Sprintf("Team %s %s", report.Team, status),
		Content: report.Summary(),
		Success: report.Succeeded(),
		Fields: []Field{
			{Name: "Run", Value: report.ID},
			{Name: "Mode", Value: string(report.Mode)},
			{Name: "Duration", Value: report.Duration.Round(time.Millisecond).String()},
		},
	}
	if failures := report.Results.Failures(); len(failures) > 0 {
		msg.Fields = append(msg.Fields, Field{Name: "Failed", Value: fmt.Sprint(len(failures))})
	}
	return msg
}

// ErrBadWebhook is returned for a webhook URL that cannot be used.
var ErrBadWebhook = errors.New("invalid webhook url")
