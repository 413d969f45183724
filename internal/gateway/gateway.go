package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/oarc/ollamateacher/internal/bus"
	"github.com/oarc/ollamateacher/internal/channel"
	"github.com/oarc/ollamateacher/internal/command"
	"github.com/oarc/ollamateacher/internal/config"
	"github.com/oarc/ollamateacher/internal/cron"
	"github.com/oarc/ollamateacher/internal/handlers"
	"github.com/oarc/ollamateacher/internal/lessons"
	"github.com/oarc/ollamateacher/internal/llm"
	"github.com/oarc/ollamateacher/internal/logger"
	"github.com/oarc/ollamateacher/internal/memory"
	"github.com/oarc/ollamateacher/internal/metrics"
	"github.com/oarc/ollamateacher/internal/profile"
	"github.com/oarc/ollamateacher/internal/sources"
	"github.com/oarc/ollamateacher/internal/store"
)

const (
	profileJobName  = "profile-analysis"
	shutdownTimeout = 10 * time.Second
)

// GeneratorFactory creates the model client (allows injection for testing).
type GeneratorFactory func(cfg *config.Config, m *metrics.Metrics, log *logger.Logger) (llm.Generator, error)

// Options for creating a Gateway
type Options struct {
	GeneratorFactory GeneratorFactory
	Logger           *logger.Logger
	SignalChan       chan os.Signal // for testing signal handling
	// DisableMetricsServer skips the /metrics listener.
	DisableMetricsServer bool
}

// DefaultGeneratorFactory talks to Ollama, and to Groq when a key is set.
func DefaultGeneratorFactory(cfg *config.Config, m *metrics.Metrics, log *logger.Logger) (llm.Generator, error) {
	c, err := llm.New(cfg.Models, llm.Options{Metrics: m, Logger: log})
	if err != nil {
		return nil, err
	}
	return c, nil
}

type Gateway struct {
	cfg        *config.Config
	log        *logger.Logger
	bus        *bus.MessageBus
	gen        llm.Generator
	mem        *memory.Store
	store      *store.Store
	router     *command.Router
	channels   *channel.ChannelManager
	cron       *cron.Service
	analyzer   *profile.Analyzer
	metrics    *metrics.Metrics
	metricsSrv *metrics.Server
	turns      *turns
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// DataDir resolves the configured data directory; relative paths live
// under the config directory.
func DataDir(cfg *config.Config) string {
	dir := cfg.Storage.DataDir
	if dir == "" {
		dir = config.DefaultDataDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(config.ConfigDir(), dir)
}

// LessonsDir is where !learn reads lessons from.
func LessonsDir(cfg *config.Config) string {
	return filepath.Join(DataDir(cfg), "lessons")
}

// CronStorePath is the persisted job list.
func CronStorePath(cfg *config.Config) string {
	return filepath.Join(DataDir(cfg), "cron", "jobs.json")
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	g := &Gateway{
		cfg:        cfg,
		log:        log.Named("gateway"),
		metrics:    metrics.New(),
		signalChan: opts.SignalChan,
	}

	// Message bus
	g.bus = bus.NewMessageBus(config.DefaultBufSize)
	g.bus.OnUnroutable = func(msg bus.OutboundMessage) {
		g.log.Warn("no channel for outbound message", "channel", msg.Channel, "chat", msg.ChatID)
	}

	dataDir := DataDir(cfg)
	st, err := store.New(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open data store: %w", err)
	}
	g.store = st

	g.mem = memory.NewStore(memory.Options{
		MaxEntries: cfg.Bot.MaxConversation,
		OnReset: func(key memory.Key) error {
			_, err := st.DeleteProfile(key)
			return err
		},
		OnGlobalReset: st.DeleteAllProfiles,
	})

	factory := opts.GeneratorFactory
	if factory == nil {
		factory = DefaultGeneratorFactory
	}
	gen, err := factory(cfg, g.metrics, log)
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}
	g.gen = gen

	// Channels
	chMgr, err := channel.NewChannelManager(cfg, g.bus, log)
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	chMgr.SetHelpText(handlers.HelpText)
	g.channels = chMgr

	// Commands
	g.router = command.NewRouter(g.mem, log, g.metrics)
	g.router.OnRecord(func(key memory.Key, entries []memory.Entry) {
		if err := st.AppendConversation(key, entries...); err != nil {
			g.log.Warn("archive conversation", "user", key.String(), "error", err)
		}
	})
	ua := cfg.Search.UserAgent
	handlers.New(handlers.Deps{
		Memory:        g.mem,
		Store:         st,
		Generator:     gen,
		Papers:        sources.NewArxivClient("", ua, nil),
		Search:        sources.NewDuckDuckGo(cfg.Search.BaseURL, ua, cfg.Search.MaxResults, nil),
		Crawler:       sources.NewCrawler(ua, nil),
		Query:         store.NewQueryEngine(st, gen, log),
		Lessons:       lessons.NewCatalog(LessonsDir(cfg), log),
		History:       chMgr,
		SystemPrompt:  cfg.Bot.SystemPrompt,
		MaxImageBytes: cfg.Models.MaxImageBytes,
		Logger:        log,
	}).Register(g.router)

	g.analyzer = profile.New(g.mem, gen, st, profile.Options{
		MaxMessages: cfg.Profile.MaxMessages,
		Logger:      log,
		Metrics:     g.metrics,
	})

	// Cron
	g.cron = cron.NewService(CronStorePath(cfg), log)
	g.cron.OnJob = g.runJob

	if !opts.DisableMetricsServer {
		g.metricsSrv = metrics.NewServer(cfg.Gateway.Host, cfg.Gateway.Port, g.metrics, g.log)
	}
	g.turns = newTurns(g.handle)

	return g, nil
}

// Channels exposes the transport registry so callers can add transports
// built outside the config.
func (g *Gateway) Channels() *channel.ChannelManager {
	return g.channels
}

func (g *Gateway) runJob(ctx context.Context, job cron.CronJob) (string, error) {
	switch job.Payload.Message {
	case profile.JobMessage:
		res, err := g.analyzer.RunCycle(ctx)
		g.metrics.SetActiveUsers(g.mem.ActiveUsers())
		return res.String(), err
	}
	if job.Payload.Internal() {
		return "", fmt.Errorf("unknown internal job %q", job.Payload.Message)
	}

	result, err := g.gen.Generate(ctx, llm.Request{
		System: g.cfg.Bot.SystemPrompt,
		Prompt: job.Payload.Message,
	})
	if err != nil {
		return "", err
	}
	if job.Payload.Deliver && job.Payload.Channel != "" {
		out := bus.OutboundMessage{
			Channel: job.Payload.Channel,
			ChatID:  job.Payload.To,
			Content: result,
		}
		if err := g.bus.Publish(ctx, out); err != nil {
			return "", fmt.Errorf("deliver: %w", err)
		}
	}
	return result, nil
}

func (g *Gateway) ensureProfileJob() error {
	if !g.cfg.Profile.Enabled {
		for _, job := range g.cron.ListJobs() {
			if job.Payload.Message == profile.JobMessage {
				g.cron.RemoveJob(job.ID)
			}
		}
		return nil
	}
	schedule := cron.Schedule{
		Kind: cron.KindCron,
		Expr: "@every " + g.cfg.Profile.IntervalDuration().String(),
	}
	_, err := g.cron.EnsureJob(profileJobName, schedule, cron.Payload{Message: profile.JobMessage})
	return err
}

// Ask routes text through the command router as if an admin had mentioned
// the bot, without any transport.
func (g *Gateway) Ask(ctx context.Context, text string) command.Reply {
	reply, _ := g.router.Route(ctx, bus.InboundMessage{
		Channel:    "cli",
		SenderID:   "cli",
		SenderName: "cli",
		ChatID:     "cli",
		Content:    text,
		Mentioned:  true,
		IsAdmin:    true,
		Timestamp:  time.Now(),
	})
	return reply
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if g.metricsSrv != nil {
		g.metricsSrv.Start()
	}

	if err := g.channels.StartAll(ctx); err != nil {
		g.shutdownMetrics()
		return fmt.Errorf("start channels: %w", err)
	}
	g.log.Info("channels started", "channels", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		g.log.Warn("cron start failed", "error", err)
	}
	if err := g.ensureProfileJob(); err != nil {
		g.log.Warn("ensure profile job failed", "error", err)
	}

	go g.processLoop(ctx)

	g.log.Info("gateway running", "host", g.cfg.Gateway.Host, "port", g.cfg.Gateway.Port)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	g.log.Info("shutting down")
	cancel()
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.log.Debug("inbound", "channel", msg.Channel, "sender", msg.SenderID, "content", truncate(msg.Content, 80))
			g.turns.submit(ctx, command.KeyFor(msg).String(), msg)
		case <-ctx.Done():
			return
		}
	}
}

// handle runs one message through the router and queues the reply parts.
func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	reply, handled := g.router.Route(ctx, msg)
	if !handled {
		g.metrics.RecordMessage(msg.Channel, "ignored")
		return
	}
	if reply.Empty() {
		g.metrics.RecordMessage(msg.Channel, "empty")
		return
	}
	for _, part := range reply.Parts {
		err := g.bus.Publish(ctx, bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: part,
			ReplyTo: msg.MessageID,
		})
		if err != nil {
			g.log.Warn("reply dropped", "channel", msg.Channel, "chat", msg.ChatID, "error", err)
			g.metrics.RecordMessage(msg.Channel, "dropped")
			return
		}
	}
	g.metrics.RecordMessage(msg.Channel, "replied")
}

func (g *Gateway) shutdownMetrics() {
	if g.metricsSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.metricsSrv.Stop(ctx); err != nil {
		g.log.Warn("stop metrics server", "error", err)
	}
}

func (g *Gateway) Shutdown() error {
	if g.cron != nil {
		g.cron.Stop()
	}
	if g.channels != nil {
		_ = g.channels.StopAll()
	}
	if g.turns != nil && !g.turns.wait(shutdownTimeout) {
		g.log.Warn("in-flight messages still running at shutdown")
	}
	g.shutdownMetrics()
	g.log.Info("shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// turns serializes messages per user while letting different users run
// concurrently. Each key has a FIFO queue drained by one goroutine that
// exits when the queue empties.
type turns struct {
	fn func(ctx context.Context, msg bus.InboundMessage)

	mu     sync.Mutex
	queues map[string][]bus.InboundMessage
	wg     sync.WaitGroup
}

func newTurns(fn func(ctx context.Context, msg bus.InboundMessage)) *turns {
	return &turns{fn: fn, queues: make(map[string][]bus.InboundMessage)}
}

func (t *turns) submit(ctx context.Context, key string, msg bus.InboundMessage) {
	t.mu.Lock()
	q, running := t.queues[key]
	t.queues[key] = append(q, msg)
	if !running {
		t.wg.Add(1)
	}
	t.mu.Unlock()

	if !running {
		go t.drain(ctx, key)
	}
}

func (t *turns) drain(ctx context.Context, key string) {
	defer t.wg.Done()
	for {
		t.mu.Lock()
		q := t.queues[key]
		if len(q) == 0 {
			delete(t.queues, key)
			t.mu.Unlock()
			return
		}
		msg := q[0]
		t.queues[key] = q[1:]
		t.mu.Unlock()

		t.fn(ctx, msg)
	}
}

// wait blocks until every queue is drained or the timeout passes. It
// reports whether the queues drained.
func (t *turns) wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
