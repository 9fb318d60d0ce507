package prompt

import "github.com/nidhogg/nora/internal/provider"

// BlockPriority orders blocks for trimming (lower is trimmed first).
type BlockPriority int

const (
	PriorityHistory BlockPriority = 1 // oldest turns dropped first
	PriorityRecall  BlockPriority = 2
	PriorityFiles   BlockPriority = 3
	PriorityUser    BlockPriority = 4 // never trimmed
	PrioritySystem  BlockPriority = 5 // never trimmed
)

// Block is a labeled group of messages with a trimming priority.
type Block struct {
	Name     string             `json:"name"`
	Priority BlockPriority      `json:"priority"`
	Messages []provider.Message `json:"messages"`
	Tokens   int                `json:"tokens"`
	Fixed    bool               `json:"fixed"`
}

// NewBlock builds a block and counts its tokens.
func NewBlock(name string, p BlockPriority, fixed bool, msgs ...provider.Message) *Block {
	return &Block{Name: name, Priority: p, Messages: msgs, Tokens: estimateTokens(msgs), Fixed: fixed}
}

// Window holds every block of one chat turn.
type Window struct {
	System  *Block `json:"system"`
	Files   *Block `json:"files"`
	Recall  *Block `json:"recall"`
	History *Block `json:"history"`
	User    *Block `json:"user"`
}

// Config holds context window settings.
type Config struct {
	MaxTokens     int     // model context size
	ReserveRatio  float64 // fraction left for the reply
	HistoryWindow int     // most recent messages considered
	FileCharLimit int     // per-file character cap
}

// DefaultConfig matches a small local model.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     8192,
		ReserveRatio:  0.25,
		HistoryWindow: 10,
		FileCharLimit: 2000,
	}
}
