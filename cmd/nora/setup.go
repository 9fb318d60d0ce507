package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/config"
	"github.com/nidhogg/nora/internal/provider"
	"github.com/nidhogg/nora/internal/ui"
)

const probeTimeout = 5 * time.Second

func newSetupCmd(o *options) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Connect to a model server, pick a model and write the config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := &wizard{
				in:     bufio.NewScanner(cmd.InOrStdin()),
				out:    cmd.OutOrStdout(),
				conf:   o.conf,
				logger: o.logger,
				url:    url,
			}
			if cmd.Flags().Changed("model") {
				w.model = o.model
			}
			return w.run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "server URL; skips the URL prompt and fails if unreachable")
	return cmd
}

// wizard walks through first-run configuration. Preset url and model skip
// their prompts. End of input accepts the default for every remaining
// question.
type wizard struct {
	in     *bufio.Scanner
	out    io.Writer
	conf   *config.Manager
	logger *zap.Logger

	url   string
	model string
}

func (w *wizard) run(ctx context.Context) error {
	fmt.Fprintln(w.out, ui.Title("Welcome to nora"))
	fmt.Fprintln(w.out, ui.Muted("Let's set up your configuration."))

	current := provider.DefaultOllamaURL
	if cfg, err := w.conf.Config(); err == nil && cfg.Ollama.URL != "" {
		current = cfg.Ollama.URL
	}

	fmt.Fprintln(w.out, ui.Info("Step 1: model server"))
	url, api, err := w.chooseServer(ctx, current)
	if err != nil {
		return err
	}

	fmt.Fprintln(w.out, ui.Info("Step 2: model"))
	model := w.chooseModel(ctx, url, api)

	fmt.Fprintln(w.out, ui.Info("Step 3: saving"))
	if err := w.conf.Set("ollama.url", url); err != nil {
		return err
	}
	if err := w.conf.Set("ollama.api", api); err != nil {
		return err
	}
	if err := w.conf.Set("model", model); err != nil {
		return err
	}
	w.logger.Info("setup complete", zap.String("url", url), zap.String("api", api), zap.String("model", model))

	fmt.Fprintln(w.out, ui.Success("configuration saved to %s", w.conf.Path()))
	fmt.Fprintln(w.out, ui.Muted(`Get started:
  nora chat              start an interactive chat
  nora run "<prompt>"    run a one-shot prompt
  nora agents            list available agents`))
	return nil
}

// chooseServer returns a URL and the API it speaks. An unreachable URL is
// kept with API auto when the user declines to retry.
func (w *wizard) chooseServer(ctx context.Context, current string) (string, string, error) {
	if w.url != "" {
		api, err := w.detect(ctx, w.url)
		if err != nil {
			return "", "", err
		}
		return w.url, api, nil
	}

	for {
		url, ok := w.ask(fmt.Sprintf("Server URL [%s]: ", current), current)
		api, err := w.detect(ctx, url)
		if err == nil {
			return url, api, nil
		}
		fmt.Fprintln(w.out, ui.Error("connection failed: %v", err))
		fmt.Fprintln(w.out, ui.Muted(`Possible issues:
  - the server is not running (try: ollama serve)
  - wrong URL or port
  - a firewall is blocking the connection`))

		if !ok {
			return w.keep(url)
		}
		retry, ok := w.ask("Retry? [Y/n]: ", "y")
		if !ok || strings.EqualFold(retry, "n") {
			return w.keep(url)
		}
	}
}

func (w *wizard) keep(url string) (string, string, error) {
	fmt.Fprintln(w.out, ui.Warning("keeping %s; change it later with: nora config set ollama.url <url>", url))
	return url, provider.APIAuto, nil
}

func (w *wizard) detect(ctx context.Context, url string) (string, error) {
	fmt.Fprintln(w.out, ui.Muted("testing connection to "+url+"..."))
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	api, err := provider.Detect(ctx, url, false)
	if err != nil {
		return "", err
	}
	if api == provider.APIOllama {
		p := provider.NewOllamaProvider(provider.ProviderConfig{Endpoint: url, Timeout: probeTimeout}, w.logger)
		if v, err := p.Version(ctx); err == nil {
			fmt.Fprintln(w.out, ui.Success("connected, Ollama version %s", v))
			return api, nil
		}
	}
	fmt.Fprintln(w.out, ui.Success("connected (%s API)", api))
	return api, nil
}

func (w *wizard) chooseModel(ctx context.Context, url, api string) string {
	if w.model != "" {
		return w.model
	}

	models, err := w.listModels(ctx, url, api)
	if err != nil {
		w.logger.Warn("listing models failed", zap.String("url", url), zap.Error(err))
	}
	if len(models) == 0 {
		fmt.Fprintln(w.out, ui.Warning("no models found on the server, using %s", config.DefaultModel))
		fmt.Fprintln(w.out, ui.Muted("pull it first with: ollama pull "+config.DefaultModel))
		return config.DefaultModel
	}

	fmt.Fprintln(w.out, ui.Success("found %d model(s):", len(models)))
	for i, m := range models {
		fmt.Fprintf(w.out, "  %d. %s\n", i+1, m.Name)
	}
	for {
		answer, ok := w.ask(fmt.Sprintf("Select a model (1-%d) [1]: ", len(models)), "1")
		n, err := strconv.Atoi(answer)
		switch {
		case err != nil:
			fmt.Fprintln(w.out, ui.Error("invalid input, enter a number"))
		case n < 1 || n > len(models):
			fmt.Fprintln(w.out, ui.Error("invalid selection, enter a number between 1 and %d", len(models)))
		default:
			return models[n-1].Name
		}
		if !ok {
			return models[0].Name
		}
	}
}

func (w *wizard) listModels(ctx context.Context, url, api string) ([]provider.Model, error) {
	if api == provider.APIAuto {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	p, err := provider.New(ctx, provider.ProviderConfig{Type: api, Endpoint: url, Timeout: probeTimeout}, w.logger)
	if err != nil {
		return nil, err
	}
	return p.ListModels(ctx)
}

// ask prints prompt and returns the trimmed answer, or def when the answer
// is empty. It reports false once input is exhausted.
func (w *wizard) ask(prompt, def string) (string, bool) {
	fmt.Fprint(w.out, prompt)
	if !w.in.Scan() {
		fmt.Fprintln(w.out)
		return def, false
	}
	if answer := strings.TrimSpace(w.in.Text()); answer != "" {
		return answer, true
	}
	return def, true
}

// needsSetup reports whether the wizard should run before cmd: only for
// interactive chat on a terminal with no config file, and never in CI.
func needsSetup(cmd *cobra.Command, conf *config.Manager) bool {
	if cmd.Name() != "chat" || conf.Exists() {
		return false
	}
	if strings.EqualFold(os.Getenv("NORA_CI"), "true") {
		return false
	}
	f, ok := cmd.InOrStdin().(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
