package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/actions"
	"github.com/nidhogg/nora/internal/chat"
	"github.com/nidhogg/nora/internal/command"
	"github.com/nidhogg/nora/internal/ui"
)

func newChatCmd(o *options) *cobra.Command {
	var (
		system  string
		files   []string
		actMode bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with history and slash commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(os.Stdin)
			out := cmd.OutOrStdout()
			a, err := newApp(cmd.Context(), o, actions.NewPromptConfirmer(in, out))
			if err != nil {
				return err
			}
			defer a.Close()
			return repl(cmd.Context(), a, o, in, out, chat.Request{
				System:  system,
				Files:   files,
				Actions: actMode,
			})
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "system prompt")
	cmd.Flags().StringSliceVar(&files, "context", nil, "files to include in every turn")
	cmd.Flags().BoolVar(&actMode, "actions", true, "let the model propose file actions")
	return cmd
}

// repl reads lines until EOF or /exit. Slash commands go to the command
// registry; everything else is a chat turn streamed to out. Ctrl-C cancels
// the current turn only.
func repl(ctx context.Context, a *app, o *options, in *bufio.Reader, out io.Writer, base chat.Request) error {
	a.router.SetStreamWriter(out)
	defer a.router.SetStreamWriter(nil)

	fmt.Fprintln(out, ui.Banner(a.engine.Model(), o.cfg.Ollama.URL))
	if n := a.history.Len(); n > 0 {
		fmt.Fprintln(out, ui.Muted(fmt.Sprintf("Loaded %d messages of history.", n)))
	}
	cc := &command.CommandContext{Session: defaultSession, Model: a.engine.Model(), Out: out}

	for {
		fmt.Fprint(out, ui.Prompt(a.engine.Model()))
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if command.IsCommand(line) {
			res, err := a.commands.Dispatch(ctx, line, cc)
			if err != nil {
				fmt.Fprintln(out, ui.Error("%v", err))
				continue
			}
			if res.Content != "" {
				fmt.Fprintln(out, res.Content)
			}
			if res.Exit {
				return nil
			}
			continue
		}

		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		req := base
		req.Message = line
		req.Stream = true
		reply, err := a.engine.Ask(turnCtx, req)
		stop()
		switch {
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(out, ui.Warning("interrupted"))
			continue
		case err != nil:
			a.logger.Error("chat turn failed", zap.Error(err))
			fmt.Fprintln(out, ui.Error("%v", err))
			continue
		}
		if n := len(reply.Actions) + len(reply.Commands); n > 0 {
			fmt.Fprintln(out, ui.Info("%d action(s) proposed. Type /apply to run them.", n))
		}
	}
}

func newRunCmd(o *options) *cobra.Command {
	var (
		system string
		files  []string
		apply  bool
	)
	cmd := &cobra.Command{
		Use:   "run <prompt...>",
		Short: "Ask one question and print the streamed answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), o, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			a.router.SetStreamWriter(out)
			reply, err := a.engine.Ask(cmd.Context(), chat.Request{
				Message: strings.Join(args, " "),
				System:  system,
				Files:   files,
				Stream:  true,
				Actions: apply,
			})
			if err != nil {
				return err
			}
			if !apply {
				return nil
			}
			results, err := a.engine.Apply(cmd.Context(), reply.Content)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.OK {
					fmt.Fprintln(out, ui.Success("%s", r.Message))
				} else {
					fmt.Fprintln(out, ui.Error("%s", r.Message))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "system prompt")
	cmd.Flags().StringSliceVar(&files, "context", nil, "files to include")
	cmd.Flags().BoolVar(&apply, "apply", false, "execute file actions in the reply")
	return cmd
}
