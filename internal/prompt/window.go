// Package prompt assembles the message list for a chat turn and keeps it
// inside the model's context window.
package prompt

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/provider"
)

// TruncatedMarker is appended to text cut to fit.
const TruncatedMarker = "\n...[truncated]..."

// Summarizer condenses old history into a short text.
type Summarizer func(ctx context.Context, transcript string) (string, error)

// Builder controls context window sizing.
type Builder struct {
	config     Config
	summarizer Summarizer
	logger     *zap.Logger
}

// NewBuilder creates a builder. summarizer may be nil, in which case old
// history is dropped rather than summarized.
func NewBuilder(cfg Config, summarizer Summarizer, logger *zap.Logger) *Builder {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.ReserveRatio <= 0 || cfg.ReserveRatio >= 1 {
		cfg.ReserveRatio = def.ReserveRatio
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.FileCharLimit <= 0 {
		cfg.FileCharLimit = def.FileCharLimit
	}
	return &Builder{config: cfg, summarizer: summarizer, logger: logger}
}

// Budget returns the token budget for the prompt.
func (b *Builder) Budget() int {
	return int(float64(b.config.MaxTokens) * (1 - b.config.ReserveRatio))
}

// Turn is the raw material of one chat turn.
type Turn struct {
	System      string
	FileContext string
	Recalled    []string
	History     []provider.Message
	User        string
}

// Window arranges a turn into blocks. Only the last HistoryWindow messages
// of history are kept.
func (b *Builder) Window(t Turn) *Window {
	w := &Window{}
	if t.System != "" {
		w.System = NewBlock("system", PrioritySystem, true, provider.SystemMessage(t.System))
	}
	if t.FileContext != "" {
		w.Files = NewBlock("files", PriorityFiles, false,
			provider.SystemMessage("Project files:\n"+t.FileContext))
	}
	if len(t.Recalled) > 0 {
		msgs := make([]provider.Message, len(t.Recalled))
		for i, r := range t.Recalled {
			msgs[i] = provider.SystemMessage("Related earlier message:\n" + r)
		}
		w.Recall = NewBlock("recall", PriorityRecall, false, msgs...)
	}
	hist := t.History
	if len(hist) > b.config.HistoryWindow {
		hist = hist[len(hist)-b.config.HistoryWindow:]
	}
	if len(hist) > 0 {
		w.History = NewBlock("history", PriorityHistory, false, append([]provider.Message(nil), hist...)...)
	}
	if t.User != "" {
		w.User = NewBlock("user", PriorityUser, true, provider.UserMessage(t.User))
	}
	return w
}

// Build arranges t and fits it to the budget.
func (b *Builder) Build(ctx context.Context, t Turn) []provider.Message {
	return b.Fit(ctx, b.Window(t))
}

// Fit trims a window to the token budget, lowest priority first, and
// returns the messages in conversation order: system, files, recall,
// history, user.
func (b *Builder) Fit(ctx context.Context, w *Window) []provider.Message {
	blocks := w.trimOrder()
	total := totalTokens(blocks)
	budget := b.Budget()

	if total > budget {
		b.logger.Info("context exceeds budget, trimming",
			zap.Int("total", total),
			zap.Int("budget", budget))
		for _, blk := range blocks {
			if blk.Fixed || total <= budget {
				continue
			}
			total -= b.trim(ctx, blk, total-budget)
		}
	}
	return w.flatten()
}

func (w *Window) trimOrder() []*Block {
	var out []*Block
	for _, blk := range []*Block{w.History, w.Recall, w.Files, w.User, w.System} {
		if blk != nil && len(blk.Messages) > 0 {
			out = append(out, blk)
		}
	}
	return out
}

func (w *Window) flatten() []provider.Message {
	var msgs []provider.Message
	for _, blk := range []*Block{w.System, w.Files, w.Recall, w.History, w.User} {
		if blk != nil {
			msgs = append(msgs, blk.Messages...)
		}
	}
	return msgs
}

func totalTokens(blocks []*Block) int {
	total := 0
	for _, blk := range blocks {
		total += blk.Tokens
	}
	return total
}

// trim shrinks one block by about overflow tokens and returns the tokens freed.
func (b *Builder) trim(ctx context.Context, blk *Block, overflow int) int {
	before := blk.Tokens
	switch blk.Priority {
	case PriorityHistory:
		b.trimHistory(ctx, blk, overflow)
	case PriorityRecall:
		trimTail(blk, overflow)
	case PriorityFiles:
		truncateBlock(blk, overflow)
	default:
		return 0
	}
	freed := before - blk.Tokens
	b.logger.Debug("trimmed block", zap.String("block", blk.Name), zap.Int("freed", freed))
	return freed
}

// trimHistory drops the oldest messages until overflow is covered. With a
// summarizer the dropped turns are replaced by one summary message.
func (b *Builder) trimHistory(ctx context.Context, blk *Block, overflow int) {
	cut := 0
	freed := 0
	for cut < len(blk.Messages) && freed < overflow {
		freed += estimateTokensStr(blk.Messages[cut].Content)
		cut++
	}
	dropped := blk.Messages[:cut]
	kept := blk.Messages[cut:]

	if b.summarizer != nil && len(dropped) > 1 {
		var transcript strings.Builder
		for _, m := range dropped {
			fmt.Fprintf(&transcript, "[%s]: %s\n", m.Role, m.Content)
		}
		summary, err := b.summarizer(ctx, transcript.String())
		if err == nil && estimateTokensStr(summary) < freed {
			kept = append([]provider.Message{provider.SystemMessage("Earlier conversation summary:\n" + summary)}, kept...)
		} else if err != nil {
			b.logger.Warn("history summarization failed, dropping", zap.Error(err))
		}
	}
	blk.Messages = kept
	blk.Tokens = estimateTokens(blk.Messages)
}

// trimTail removes messages from the end (least relevant recall first).
func trimTail(blk *Block, overflow int) {
	for overflow > 0 && len(blk.Messages) > 0 {
		last := blk.Messages[len(blk.Messages)-1]
		overflow -= estimateTokensStr(last.Content)
		blk.Messages = blk.Messages[:len(blk.Messages)-1]
	}
	blk.Tokens = estimateTokens(blk.Messages)
}

// truncateBlock cuts the last message's text by overflow tokens and marks it.
func truncateBlock(blk *Block, overflow int) {
	for i := len(blk.Messages) - 1; i >= 0 && overflow > 0; i-- {
		content := blk.Messages[i].Content
		keep := len(content) - overflow*4 - len(TruncatedMarker)
		if keep <= 0 {
			overflow -= estimateTokensStr(content)
			blk.Messages = append(blk.Messages[:i], blk.Messages[i+1:]...)
			continue
		}
		blk.Messages[i].Content = content[:keep] + TruncatedMarker
		overflow = 0
	}
	blk.Tokens = estimateTokens(blk.Messages)
}

// Trim cuts text to limit characters, marking the cut.
func Trim(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + TruncatedMarker
}

// LoadFileContext reads files into a context block, each introduced by a
// "--- FILE: path ---" header and trimmed to limit characters. Missing or
// unreadable files are skipped.
func LoadFileContext(paths []string, limit int, logger *zap.Logger) string {
	var parts []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			logger.Warn("skipping non-existent file", zap.String("path", p))
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			logger.Error("failed to load file", zap.String("path", p), zap.Error(err))
			continue
		}
		parts = append(parts, fmt.Sprintf("\n--- FILE: %s ---\n%s", p, Trim(string(data), limit)))
		logger.Debug("loaded file context", zap.String("path", p), zap.Int("chars", len(data)))
	}
	return strings.Join(parts, "\n")
}

func estimateTokens(msgs []provider.Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateTokensStr(m.Content)
	}
	return total
}

// estimateTokensStr approximates four characters per token.
func estimateTokensStr(s string) int {
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
