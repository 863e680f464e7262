package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/relay-agents/agent/agents/orchestrator"
	"github.com/tanpawarit/relay-agents/agent/capability"
	contractx "github.com/tanpawarit/relay-agents/agent/contract"
	llmx "github.com/tanpawarit/relay-agents/agent/llm"
	promptx "github.com/tanpawarit/relay-agents/agent/prompt"
	"github.com/tanpawarit/relay-agents/agent/record"
	"github.com/tanpawarit/relay-agents/agent/session"
	configx "github.com/tanpawarit/relay-agents/pkg/config"
	_ "github.com/tanpawarit/relay-agents/pkg/logger/autoload"
	qstashx "github.com/tanpawarit/relay-agents/pkg/qstash"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
)

type AppConfig struct {
	MaxTurns        int           `split_words:"true" default:"10"`
	RunTimeout      time.Duration `split_words:"true" default:"5m"`
	StopToken       string        `split_words:"true" default:"TERMINATE"`
	SummaryMaxWords int           `split_words:"true" default:"200"`
	OnTurnError     string        `split_words:"true" default:"abort"`
}

// settings is everything read from the environment, loaded once at startup.
type settings struct {
	app      AppConfig
	llm      llmx.Config
	browser  capability.BrowserConfig
	sandbox  capability.SandboxConfig
	cache    capability.UpstashCacheConfig
	recorder record.PostgresConfig
	qstash   qstashx.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	fs.SetOutput(stdout)
	mode := fs.String("mode", string(contractx.PolicyRotation), "speaker policy: rotation (roundrobin) or selection (selector)")
	flowName := fs.String("flow", session.FlowResearch, "task flow: research or coding")
	envFile := fs.String("env", "", "path to a .env file")
	maxTurns := fs.Int("max-turns", 0, "turn ceiling per task (overrides RELAY_MAX_TURNS)")
	timeout := fs.Duration("timeout", 0, "time limit per task (overrides RELAY_RUN_TIMEOUT)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: relay [flags] <task> [task...]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	tasks := make([]string, 0, fs.NArg())
	for _, arg := range fs.Args() {
		if t := strings.TrimSpace(arg); t != "" {
			tasks = append(tasks, t)
		}
	}
	if len(tasks) == 0 {
		log.Error().Msg("at least one task is required")
		fs.Usage()
		return exitConfig
	}

	policy, err := contractx.ParsePolicy(*mode)
	if err != nil {
		log.Error().Err(err).Msg("invalid mode")
		return exitConfig
	}
	prompts := promptx.LoadPromptSet()
	if _, err := session.ParseFlow(*flowName, prompts, session.Toolbox{}, ""); err != nil {
		log.Error().Err(err).Msg("invalid flow")
		return exitConfig
	}

	if *envFile != "" {
		configx.SetEnvFile(*envFile)
	}
	conf, err := loadSettings()
	if err != nil {
		log.Error().Err(err).Msg("load configuration")
		return exitConfig
	}
	if *maxTurns > 0 {
		conf.app.MaxTurns = *maxTurns
	}
	if *timeout > 0 {
		conf.app.RunTimeout = *timeout
	}
	onTurnError, err := orchestrator.ParseOnTurnError(conf.app.OnTurnError)
	if err != nil {
		log.Error().Err(err).Msg("invalid on-turn-error policy")
		return exitConfig
	}

	deps, err := wire(ctx, conf, prompts, strings.ToLower(strings.TrimSpace(*flowName)), policy)
	if err != nil {
		log.Error().Err(err).Msg("wire session")
		if errors.Is(err, contractx.ErrConfiguration) {
			return exitConfig
		}
		return exitFailure
	}
	defer deps.close()

	driver, err := session.NewDriver(session.Config{
		Policy:      policy,
		MaxTurns:    conf.app.MaxTurns,
		TaskTimeout: conf.app.RunTimeout,
		OnTurnError: onTurnError,
	}, deps.flow, deps.models,
		session.WithSelector(deps.selector),
		session.WithRecorders(deps.recorders...),
		session.WithReporter(session.NewConsoleReporter(stdout)),
	)
	if err != nil {
		log.Error().Err(err).Msg("create driver")
		return exitConfig
	}

	outcomes, err := driver.Run(ctx, tasks)
	failed := 0
	for _, o := range outcomes {
		if o.Status == contractx.OutcomeFailed {
			failed++
		}
	}
	log.Info().Int("tasks", len(tasks)).Int("completed", len(outcomes)-failed).Int("failed", failed).Msg("batch finished")
	if err != nil {
		log.Error().Err(err).Msg("batch interrupted")
		return exitFailure
	}
	return exitOK
}

func loadSettings() (*settings, error) {
	var s settings
	if err := load(&s.llm, "OPENROUTER"); err != nil {
		return nil, err
	}
	if err := s.llm.Validate(); err != nil {
		return nil, err
	}
	if err := load(&s.app, "RELAY"); err != nil {
		return nil, err
	}
	if s.app.MaxTurns <= 0 {
		return nil, fmt.Errorf("%w: RELAY_MAX_TURNS must be positive", contractx.ErrConfiguration)
	}
	if err := load(&s.browser, "BROWSER"); err != nil {
		return nil, err
	}
	if err := load(&s.sandbox, "SANDBOX"); err != nil {
		return nil, err
	}
	if err := load(&s.cache, "UPSTASH_REDIS"); err != nil {
		return nil, err
	}
	if err := load(&s.recorder, "RECORDER"); err != nil {
		return nil, err
	}
	if err := load(&s.qstash, "QSTASH"); err != nil {
		return nil, err
	}
	return &s, nil
}

func load[T any](dst *T, prefix string) error {
	conf, err := configx.New[T](prefix)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", contractx.ErrConfiguration, prefix, err)
	}
	*dst = *conf
	return nil
}

type wiring struct {
	flow      session.Flow
	models    session.Models
	selector  contractx.Selector
	recorders []contractx.Recorder
	closers   []func() error
}

func (w *wiring) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			log.Warn().Err(err).Msg("release resource")
		}
	}
}

// wire builds the shared model oracle, the capabilities the flow needs and the
// optional recorders. Resources are released by close even on partial failure.
func wire(ctx context.Context, conf *settings, prompts promptx.PromptSet, flowName string, policy contractx.Policy) (w *wiring, err error) {
	w = &wiring{}
	defer func() {
		if err != nil {
			w.close()
			w = nil
		}
	}()

	w.models, err = buildModels(ctx, conf.llm)
	if err != nil {
		return w, err
	}

	if policy == contractx.PolicySelection {
		selectorCfg := conf.llm.OpenRouterFor(llmx.RoleSelector)
		chatModel, err := selectorCfg.ChatModel(ctx)
		if err != nil {
			return w, err
		}
		selector, err := orchestrator.NewModelSelector(ctx, chatModel, prompts.Selector)
		if err != nil {
			return w, err
		}
		w.selector = selector
	}

	var tools session.Toolbox
	switch flowName {
	case session.FlowCoding:
		sandbox, err := capability.NewSandbox(conf.sandbox)
		if err != nil {
			return w, fmt.Errorf("create sandbox: %w", err)
		}
		tools.Execute = capability.NewExecutor(sandbox)
		tools.Lint = capability.NewLinter(sandbox)
	default:
		fetcher, err := buildFetcher(conf, w)
		if err != nil {
			return w, err
		}
		tools.Fetch = fetcher

		summarizerCfg := conf.llm.OpenRouterFor(contractx.AgentSummarizer)
		client, err := summarizerCfg.Client()
		if err != nil {
			return w, fmt.Errorf("%w: %w", contractx.ErrConfiguration, err)
		}
		summarizer, err := capability.NewSummarizer(
			client,
			summarizerCfg.Model,
			capability.WithDefaultWords(conf.app.SummaryMaxWords),
			capability.WithMaxTokens(int64(conf.llm.MaxCompletionToken)),
			capability.WithTemperature(float64(summarizerCfg.Temperature)),
		)
		if err != nil {
			return w, err
		}
		tools.Summarize = summarizer
	}

	w.flow, err = session.ParseFlow(flowName, prompts, tools, conf.app.StopToken)
	if err != nil {
		return w, err
	}

	if conf.recorder.Enabled() {
		pg, err := record.NewPostgresRecorder(ctx, conf.recorder)
		if err != nil {
			return w, fmt.Errorf("create postgres recorder: %w", err)
		}
		w.closers = append(w.closers, pg.Close)
		w.recorders = append(w.recorders, pg)
	}
	if conf.qstash.Enabled() {
		publisher, err := record.NewQStashPublisher(conf.qstash)
		if err != nil {
			return w, err
		}
		w.recorders = append(w.recorders, publisher)
	}

	return w, nil
}

func buildModels(ctx context.Context, conf llmx.Config) (session.Models, error) {
	defaultCfg := conf.OpenRouterFor("")
	base, err := defaultCfg.ChatModel(ctx)
	if err != nil {
		return session.Models{}, err
	}

	models := session.Models{Default: base, ByRole: map[string]einomodel.ToolCallingChatModel{}}
	for _, role := range []string{contractx.AgentCoder, contractx.AgentDebugger} {
		roleCfg := conf.OpenRouterFor(role)
		if roleCfg.Model == defaultCfg.Model && roleCfg.Temperature == defaultCfg.Temperature {
			continue
		}
		m, err := roleCfg.ChatModel(ctx)
		if err != nil {
			return session.Models{}, err
		}
		models.ByRole[role] = m
	}
	return models, nil
}

func buildFetcher(conf *settings, w *wiring) (*capability.Fetcher, error) {
	renderer, err := capability.NewChromeRenderer(conf.browser)
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	w.closers = append(w.closers, renderer.Close)

	opts := []capability.FetcherOption{capability.WithNavigationTimeout(conf.browser.NavigationTimeout)}
	if conf.cache.Enabled() {
		cache, err := capability.NewUpstashPageCache(conf.cache)
		if err != nil {
			return nil, fmt.Errorf("create page cache: %w", err)
		}
		opts = append(opts, capability.WithPageCache(cache))
	}
	return capability.NewFetcher(renderer, opts...)
}
