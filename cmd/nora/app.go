package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/actions"
	"github.com/nidhogg/nora/internal/chat"
	"github.com/nidhogg/nora/internal/command"
	"github.com/nidhogg/nora/internal/config"
	"github.com/nidhogg/nora/internal/embedding"
	"github.com/nidhogg/nora/internal/graph"
	"github.com/nidhogg/nora/internal/history"
	"github.com/nidhogg/nora/internal/indexer"
	"github.com/nidhogg/nora/internal/notify"
	"github.com/nidhogg/nora/internal/orchestrator"
	"github.com/nidhogg/nora/internal/plugin"
	"github.com/nidhogg/nora/internal/prompt"
	"github.com/nidhogg/nora/internal/provider"
	"github.com/nidhogg/nora/internal/rag"
	"github.com/nidhogg/nora/internal/store"
	"github.com/nidhogg/nora/internal/tools"
	"github.com/nidhogg/nora/internal/vectorstore"
)

const (
	defaultSession = "default"
	ragThreshold   = 0.3
	connectTimeout = 10 * time.Second
)

// app is every component a command may need. Optional integrations are
// nil when unconfigured or unreachable.
type app struct {
	logger   *zap.Logger
	router   *provider.Router
	history  *history.Manager
	actions  *actions.Manager
	tools    *tools.Registry
	agents   *plugin.Registry
	coord    *orchestrator.Coordinator
	engine   *chat.Engine
	indexer  *indexer.Indexer
	commands *command.Registry

	store  *store.Store
	graph  *graph.Store
	rag    *rag.Index
	notify *notify.Broadcaster

	closers []func()
}

// newApp wires the components. confirmer answers safe-mode questions from
// the actions manager; nil confirms everything.
func newApp(ctx context.Context, o *options, confirmer actions.Confirmer) (*app, error) {
	cfg := o.cfg
	logger := o.logger
	a := &app{logger: logger}

	a.router = provider.NewRouter(logger)
	a.registerProviders(ctx, cfg.ProviderConfig(), cfg.Ollama.URL)
	var fallbacks []string
	for _, name := range o.conf.Profiles() {
		sc := cfg.Profiles[name]
		pc := provider.ProviderConfig{
			ID: "profile:" + name, Name: name, Type: sc.API,
			Endpoint: sc.URL, APIKey: sc.APIKey, VerifySSL: sc.VerifySSL,
		}
		p, err := provider.New(ctx, pc, logger)
		if err != nil {
			logger.Debug("profile server unavailable", zap.String("profile", name), zap.Error(err))
			continue
		}
		a.router.Register(p)
		fallbacks = append(fallbacks, p.ID())
	}
	a.router.SetFallbacks(fallbacks)

	if cfg.Postgres.DSN != "" {
		a.connectStore(ctx, cfg.Postgres.DSN)
	}

	var backend history.Backend = history.NewFileBackend(cfg.History.Path, logger)
	if cfg.History.Backend == "postgres" {
		if a.store != nil {
			backend = a.store.History(defaultSession)
		} else {
			logger.Warn("postgres history requested but store unavailable, using file", zap.String("path", cfg.History.Path))
		}
	}
	a.history = history.NewManager(backend, logger)
	if err := a.history.Load(ctx); err != nil {
		return nil, err
	}

	if cfg.Qdrant.Host != "" {
		a.connectRAG(ctx, o)
	}
	if a.rag != nil {
		a.history.SetRecaller(a.rag)
	}

	act, err := actions.NewManager("", true, confirmer, logger)
	if err != nil {
		return nil, err
	}
	a.actions = act

	a.tools = tools.NewRegistry()
	tools.RegisterBuiltins(a.tools, act)

	runner := orchestrator.NewRunner(a.router.Call, a.tools, cfg.Orchestrator.TaskTimeout, logger)
	sched := orchestrator.NewScheduler(runner, cfg.Orchestrator.MaxWorkers, logger)

	var bus *orchestrator.MessageBus
	if cfg.Redis.URL != "" {
		bus, err = orchestrator.NewMessageBus(cfg.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without event bus", zap.Error(err))
			bus = nil
		} else {
			a.closers = append(a.closers, func() { _ = bus.Close() })
		}
	}
	a.coord = orchestrator.NewCoordinator(sched, bus, logger)
	if a.store != nil {
		a.coord.AddRecorder(a.store)
	}
	if cfg.Neo4j.URI != "" {
		a.connectGraph(ctx, cfg.Neo4j)
	}
	if a.graph != nil {
		a.coord.AddRecorder(a.graph)
	}
	a.setupNotify(cfg.Notify)

	a.agents = plugin.NewRegistry(logger)
	if err := plugin.RegisterBuiltins(a.agents); err != nil {
		return nil, err
	}
	if _, err := plugin.LoadInto(a.agents, cfg.Plugins.Dir); err != nil {
		logger.Warn("loading agents failed", zap.String("dir", cfg.Plugins.Dir), zap.Error(err))
	}

	summarize := func(ctx context.Context, transcript string) (string, error) {
		msgs := []provider.Message{
			provider.SystemMessage("Summarize this conversation in a few sentences, keeping facts and decisions."),
			provider.UserMessage(transcript),
		}
		return a.router.Call(ctx, msgs, o.model, false)
	}
	pc := prompt.DefaultConfig()
	pc.HistoryWindow = cfg.History.Window
	a.engine = chat.NewEngine(a.router.Call, o.model, a.history, prompt.NewBuilder(pc, summarize, logger), act, logger)
	if a.rag != nil {
		a.engine.SetRecaller(a.rag)
	}

	a.indexer = indexer.New(cfg.Index.Path, logger)

	a.commands = command.NewRegistry()
	command.RegisterBuiltins(a.commands, command.Deps{
		History: a.history,
		Applier: a.engine,
		Project: a.indexer,
		Agents:  a.agents,
	})
	n := command.BridgeCommands(a.commands, &command.CommandContext{
		Session: defaultSession,
		Model:   o.model,
		Out:     os.Stdout,
	}, a.tools)
	logger.Debug("components ready",
		zap.Int("bridged_tools", n),
		zap.Bool("store", a.store != nil),
		zap.Bool("graph", a.graph != nil),
		zap.Bool("rag", a.rag != nil),
		zap.Bool("notify", a.notify != nil))
	return a, nil
}

// registerProviders detects the primary server. When detection fails an
// Ollama client is registered anyway so calls report the real error.
func (a *app) registerProviders(ctx context.Context, pc provider.ProviderConfig, url string) {
	dctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	p, err := provider.New(dctx, pc, a.logger)
	if err != nil {
		a.logger.Warn("model server not detected", zap.String("url", url), zap.Error(err))
		p = provider.NewOllamaProvider(pc, a.logger)
	}
	a.router.Register(p)
}

func (a *app) connectStore(ctx context.Context, dsn string) {
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	st, err := store.New(cctx, dsn, a.logger)
	if err != nil {
		a.logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(err))
		return
	}
	if err := st.Migrate(cctx); err != nil {
		a.logger.Warn("PostgreSQL migration failed, running without persistence", zap.Error(err))
		st.Close()
		return
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
}

func (a *app) connectGraph(ctx context.Context, nc config.Neo4jConfig) {
	gs, err := graph.NewStore(nc.URI, nc.User, nc.Password, a.logger)
	if err != nil {
		a.logger.Warn("Neo4j unavailable, running without run graph", zap.Error(err))
		return
	}
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := gs.EnsureSchema(cctx); err != nil {
		a.logger.Warn("Neo4j unavailable, running without run graph", zap.Error(err))
		_ = gs.Close(context.Background())
		return
	}
	a.graph = gs
	a.closers = append(a.closers, func() { _ = gs.Close(context.Background()) })
}

func (a *app) connectRAG(ctx context.Context, o *options) {
	cfg := o.cfg
	vc, err := vectorstore.NewClient(vectorstore.Config{Host: cfg.Qdrant.Host, Port: cfg.Qdrant.Port})
	if err != nil {
		a.logger.Warn("Qdrant unavailable, running without semantic recall", zap.Error(err))
		return
	}
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := vc.Ping(cctx); err != nil {
		a.logger.Warn("Qdrant unavailable, running without semantic recall", zap.Error(err))
		_ = vc.Close()
		return
	}
	emb, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		a.logger.Warn("embedding provider invalid, running without semantic recall", zap.Error(err))
		_ = vc.Close()
		return
	}
	ix := rag.NewIndex(emb, vc, ragThreshold, a.logger)
	if err := ix.Init(cctx); err != nil {
		a.logger.Warn("Qdrant collections unavailable, running without semantic recall", zap.Error(err))
		_ = vc.Close()
		return
	}
	a.rag = ix
	a.closers = append(a.closers, func() { _ = vc.Close() })
}

func (a *app) setupNotify(nc config.NotifyConfig) {
	var notifiers []notify.Notifier
	if nc.SlackWebhook != "" {
		n, err := notify.NewSlackNotifier(nc.SlackWebhook, a.logger)
		if err != nil {
			a.logger.Warn("Slack webhook invalid, skipping", zap.Error(err))
		} else {
			notifiers = append(notifiers, n)
		}
	}
	if nc.DiscordWebhook != "" {
		n, err := notify.NewDiscordNotifier(nc.DiscordWebhook, a.logger)
		if err != nil {
			a.logger.Warn("Discord webhook invalid, skipping", zap.Error(err))
		} else {
			notifiers = append(notifiers, n)
		}
	}
	if len(notifiers) == 0 {
		return
	}
	a.notify = notify.NewBroadcaster(a.logger, notifiers...)
	a.coord.AddRecorder(a.notify)
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
