package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/orchestrator"
)

type fakeNotifier struct {
	name string
	err  error
	mu   sync.Mutex
	got  []*Message
}

func (f *fakeNotifier) Platform() string { return f.name }
func (f *fakeNotifier) Notify(_ context.Context, msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, msg)
	return f.err
}

func sampleReport() *orchestrator.RunReport {
	a := orchestrator.NewTask("a", orchestrator.Runnable{}, "m")
	b := orchestrator.NewTask("b", orchestrator.Runnable{}, "m", "a")
	return &orchestrator.RunReport{
		ID:   "run-1",
		Team: "dev",
		Mode: orchestrator.ModeParallel,
		Results: orchestrator.Results{
			"a": orchestrator.Succeeded("done"),
			"b": orchestrator.Failed("boom"),
		},
		Tasks:    []*orchestrator.Task{a, b},
		Duration: 1200 * time.Millisecond,
	}
}

func TestRunMessage(t *testing.T) {
	msg := RunMessage(sampleReport())
	assert.Equal(t, "Team dev failed", msg.Title)
	assert.False(t, msg.Success)
	assert.Contains(t, msg.Content, "- b: failed: boom")
	assert.Contains(t, msg.Fields, Field{Name: "Failed", Value: "1"})

	report := sampleReport()
	report.Deadlock = "deadlock: c never ready"
	assert.Equal(t, "Team dev deadlocked", RunMessage(report).Title)
}

func TestBroadcasterFansOut(t *testing.T) {
	ok := &fakeNotifier{name: "ok"}
	bad := &fakeNotifier{name: "bad", err: errors.New("403")}
	b := NewBroadcaster(zap.NewNop(), ok)
	b.Add(bad)
	require.Equal(t, 2, b.Len())

	err := b.RecordRun(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: 403")
	assert.Len(t, ok.got, 1, "a failing notifier does not stop the others")
	assert.Len(t, bad.got, 1)

	hist := b.History(10)
	require.Len(t, hist, 1)
	assert.ElementsMatch(t, []string{"ok", "bad"}, hist[0].Targets)
}

func TestBroadcasterEmpty(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	assert.NoError(t, b.Send(context.Background(), &Message{Title: "x"}))
	assert.Empty(t, b.History(0))
}

func TestSlackNotifier(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n, err := NewSlackNotifier(srv.URL+"/services/T/B/X", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), RunMessage(sampleReport())))

	assert.Equal(t, "Team dev failed", body["text"])
	atts, _ := body["attachments"].([]any)
	require.Len(t, atts, 1)
	assert.Equal(t, "danger", atts[0].(map[string]any)["color"])

	_, err = NewSlackNotifier("", zap.NewNop())
	assert.ErrorIs(t, err, ErrBadWebhook)
}

func TestParseWebhook(t *testing.T) {
	id, token, err := parseWebhook("https://discord.com/api/webhooks/123/abc-def")
	require.NoError(t, err)
	assert.Equal(t, "123", id)
	assert.Equal(t, "abc-def", token)

	for _, bad := range []string{"", "not a url", "https://discord.com/api/channels/1"} {
		_, _, err := parseWebhook(bad)
		assert.ErrorIs(t, err, ErrBadWebhook, bad)
	}
}

// rewrite sends every request to target, keeping the path.
type rewrite struct{ target *url.URL }

func (rw rewrite) RoundTrip(r *http.Request) (*http.Response, error) {
	r.URL.Scheme = rw.target.Scheme
	r.URL.Host = rw.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func TestDiscordNotifier(t *testing.T) {
	var path string
	var payload []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		payload, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	target, _ := url.Parse(srv.URL)

	n, err := NewDiscordNotifier("https://discord.com/api/webhooks/42/tok", zap.NewNop())
	require.NoError(t, err)
	n.session.Client = &http.Client{Transport: rewrite{target}}

	require.NoError(t, n.Notify(context.Background(), &Message{Title: "Team dev succeeded", Content: "all good", Success: true}))
	assert.True(t, strings.HasSuffix(path, "/webhooks/42/tok"), path)
	assert.Contains(t, string(payload), `"title":"Team dev succeeded"`)
}
