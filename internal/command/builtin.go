package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nidhogg/nora/internal/actions"
	"github.com/nidhogg/nora/internal/indexer"
	"github.com/nidhogg/nora/internal/plugin"
	"github.com/nidhogg/nora/internal/provider"
)

// ---------------------------------------------------------------------------
// Interfaces kept here so commands can be tested without the real backends.
// ---------------------------------------------------------------------------

// HistoryStore is the conversation transcript.
type HistoryStore interface {
	Recent(n int) []provider.Message
	Len() int
	Clear(ctx context.Context) error
	Search(ctx context.Context, query string, k int) ([]string, error)
}

// Applier executes the actions of the last assistant reply.
type Applier interface {
	ApplyLast(ctx context.Context) ([]actions.Result, error)
}

// ProjectSearcher searches the project index.
type ProjectSearcher interface {
	Search(query string, maxResults int) ([]indexer.Result, error)
}

// AgentLister lists registered agents.
type AgentLister interface {
	List() []*plugin.Plugin
}

// Deps are the backends the builtin commands use. Nil fields disable the
// commands that need them.
type Deps struct {
	History HistoryStore
	Applier Applier
	Project ProjectSearcher
	Agents  AgentLister
}

const defaultHistoryCount = 10

// RegisterBuiltins registers /help, /exit and every command whose backend is
// present in deps.
func RegisterBuiltins(reg *Registry, deps Deps) {
	reg.Register(helpCommand(reg))
	reg.Register(exitCommand())
	if deps.History != nil {
		reg.Register(clearCommand(deps.History))
		reg.Register(historyCommand(deps.History))
		reg.Register(searchCommand(deps.History))
	}
	if deps.Applier != nil {
		reg.Register(applyCommand(deps.Applier))
	}
	if deps.Project != nil {
		reg.Register(findCommand(deps.Project))
	}
	if deps.Agents != nil {
		reg.Register(agentsCommand(deps.Agents))
	}
}

// ---------------------------------------------------------------------------
// /help
// ---------------------------------------------------------------------------

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		ReadOnly:    true,
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /exit
// ---------------------------------------------------------------------------

func exitCommand() *Command {
	return &Command{
		Name:        "exit",
		Aliases:     []string{"quit"},
		Description: "Leave the chat",
		Usage:       "/exit",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			return &CommandResult{Content: "Goodbye!", Exit: true}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// history
// ---------------------------------------------------------------------------

func clearCommand(h HistoryStore) *Command {
	return &Command{
		Name:        "clear",
		Description: "Clear the conversation history",
		Usage:       "/clear",
		Handler: func(ctx context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			if err := h.Clear(ctx); err != nil {
				return nil, fmt.Errorf("clear history: %w", err)
			}
			return &CommandResult{Content: "Conversation history cleared."}, nil
		},
	}
}

func historyCommand(h HistoryStore) *Command {
	return &Command{
		Name:        "history",
		Description: "Show recent messages",
		Usage:       "/history [n]",
		ReadOnly:    true,
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			n := defaultHistoryCount
			if args != "" {
				v, err := strconv.Atoi(args)
				if err != nil || v <= 0 {
					return &CommandResult{Content: "Usage: /history [n]"}, nil
				}
				n = v
			}
			msgs := h.Recent(n)
			if len(msgs) == 0 {
				return &CommandResult{Content: "No conversation history."}, nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Last %d of %d messages:\n", len(msgs), h.Len())
			for _, m := range msgs {
				fmt.Fprintf(&b, "[%s] %s\n", m.Role, preview(m.Content, 200))
			}
			return &CommandResult{Content: b.String(), Data: msgs}, nil
		},
	}
}

func searchCommand(h HistoryStore) *Command {
	return &Command{
		Name:        "search",
		Description: "Search the conversation history",
		Usage:       "/search <query>",
		ReadOnly:    true,
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /search <query>"}, nil
			}
			hits, err := h.Search(ctx, args, 5)
			if err != nil {
				return nil, fmt.Errorf("search history: %w", err)
			}
			if len(hits) == 0 {
				return &CommandResult{Content: "No results found for: " + args}, nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Search results for %q:\n\n", args)
			for i, hit := range hits {
				fmt.Fprintf(&b, "%d. %s\n\n", i+1, preview(hit, 300))
			}
			return &CommandResult{Content: b.String(), Data: hits}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /apply
// ---------------------------------------------------------------------------

func applyCommand(a Applier) *Command {
	return &Command{
		Name:        "apply",
		Description: "Apply file actions and commands from the last reply",
		Usage:       "/apply",
		Handler: func(ctx context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			results, err := a.ApplyLast(ctx)
			if err != nil {
				return &CommandResult{Content: "Nothing to apply: " + err.Error()}, nil
			}
			if len(results) == 0 {
				return &CommandResult{Content: "No actions found in the last reply."}, nil
			}
			var b strings.Builder
			ok := 0
			for _, r := range results {
				mark := "x"
				if r.OK {
					mark = "ok"
					ok++
				}
				fmt.Fprintf(&b, "[%s] %s %s: %s\n", mark, r.Action, r.Target, preview(r.Message, 200))
			}
			fmt.Fprintf(&b, "%d/%d actions succeeded\n", ok, len(results))
			return &CommandResult{Content: b.String(), Data: results}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /find
// ---------------------------------------------------------------------------

func findCommand(p ProjectSearcher) *Command {
	return &Command{
		Name:        "find",
		Description: "Search the indexed project",
		Usage:       "/find <query>",
		ReadOnly:    true,
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /find <query>"}, nil
			}
			results, err := p.Search(args, 10)
			if err != nil {
				return nil, fmt.Errorf("search project: %w", err)
			}
			if len(results) == 0 {
				return &CommandResult{Content: "No indexed files match: " + args}, nil
			}
			var b strings.Builder
			for _, r := range results {
				fmt.Fprintf(&b, "%3d  %s (%s)\n", r.RelevanceScore, r.RelativePath, r.Language)
			}
			return &CommandResult{Content: b.String(), Data: results}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /agents
// ---------------------------------------------------------------------------

func agentsCommand(lister AgentLister) *Command {
	return &Command{
		Name:        "agents",
		Description: "List available agents",
		Usage:       "/agents",
		ReadOnly:    true,
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			agents := lister.List()
			if len(agents) == 0 {
				return &CommandResult{Content: "No agents registered."}, nil
			}
			var b strings.Builder
			b.WriteString("Available agents:\n")
			for _, a := range agents {
				fmt.Fprintf(&b, "  %s v%s (%s): %s\n", a.Name, a.Version, a.Kind, a.Description)
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
