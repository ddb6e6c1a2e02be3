// Worker executable for agentchat.
//
// It connects the record store, the async tool response queue, the model
// providers and the configured MCP servers, then serves conversation
// workflows and activities on the Temporal task queue.
//
// Configuration comes from an optional YAML file (-config) overlaid with
// environment variables; see internal/config.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"goa.design/clue/log"

	"github.com/mfateev/agentchat/internal/activities"
	"github.com/mfateev/agentchat/internal/asyncqueue"
	"github.com/mfateev/agentchat/internal/config"
	"github.com/mfateev/agentchat/internal/engine"
	"github.com/mfateev/agentchat/internal/llm"
	"github.com/mfateev/agentchat/internal/mcp"
	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/service"
	"github.com/mfateev/agentchat/internal/store"
	"github.com/mfateev/agentchat/internal/store/inmem"
	mongostore "github.com/mfateev/agentchat/internal/store/mongo"
	"github.com/mfateev/agentchat/internal/temporalclient"
	"github.com/mfateev/agentchat/internal/tools"
	"github.com/mfateev/agentchat/internal/version"
	"github.com/mfateev/agentchat/internal/windows"
	"github.com/mfateev/agentchat/internal/workflow"
)

func main() {
	var (
		configF = flag.String("config", "", "path to the YAML configuration file")
		seedF   = flag.String("seed", "", "seed file to load into the store (overrides seed_file)")
		debugF  = flag.Bool("debug", false, "enable debug logs")
	)
	flag.Parse()

	cfg, err := config.Load(*configF)
	if err == nil {
		err = cfg.ApplyEnv(os.Getenv)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *seedF != "" {
		cfg.SeedFile = *seedF
	}
	if *debugF {
		cfg.Log.Debug = true
	}

	format := log.FormatJSON
	if cfg.Log.Format == "terminal" && log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if cfg.Log.Debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	if err := run(ctx, cfg); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "worker failed"})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.SeedFile != "" {
		seed, err := config.LoadSeed(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, st); err != nil {
			return err
		}
		log.Info(ctx, log.KV{K: "msg", V: "seed applied"}, log.KV{K: "file", V: cfg.SeedFile},
			log.KV{K: "agents", V: len(seed.Agents)}, log.KV{K: "tools", V: len(seed.Tools)})
	}

	queue, closeQueue, err := openQueue(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	defer closeQueue()

	providers := map[string]llm.Client{}
	if cfg.LLM.OpenAIAPIKey != "" {
		providers[models.ProviderOpenAI] = llm.NewOpenAIClient(cfg.LLM.OpenAIAPIKey)
		log.Info(ctx, log.KV{K: "msg", V: "provider available"}, log.KV{K: "provider", V: models.ProviderOpenAI})
	}
	if cfg.LLM.AnthropicAPIKey != "" {
		providers[models.ProviderAnthropic] = llm.NewAnthropicClient(cfg.LLM.AnthropicAPIKey)
		log.Info(ctx, log.KV{K: "msg", V: "provider available"}, log.KV{K: "provider", V: models.ProviderAnthropic})
	}
	limiter := llm.NewRateLimiter(cfg.LLM.InitialTPM, cfg.LLM.MaxTPM)
	model := limiter.Wrap(llm.NewMultiProviderClient(providers))

	integrations := mcp.NewManager()
	defer integrations.Close(ctx)
	if len(cfg.MCP) > 0 {
		res, err := integrations.Connect(ctx, cfg.MCP)
		if err != nil {
			return err
		}
		for name, reason := range res.Failures {
			log.Warn(ctx, log.KV{K: "msg", V: "mcp server unavailable"}, log.KV{K: "server", V: name}, log.KV{K: "err", V: reason})
		}
		log.Info(ctx, log.KV{K: "msg", V: "mcp tools discovered"}, log.KV{K: "count", V: len(res.Tools)})
	}

	fetcher := windows.NewFetcher(st, st)
	engineOpts := engine.Options{
		LLM:       model,
		Queue:     queue,
		Refresher: windows.NewRefresher(fetcher),
		Hooks:     engine.ObservabilityHooks(nil),
	}
	svc := service.New(service.Options{
		Store:     st,
		Engine:    engine.New(engineOpts),
		Streaming: engine.NewStreaming(engineOpts),
		Queue:     queue,
		Builtins: tools.Catalog{
			windows.OpenDataWindow:   fetcher.DataWindowTool(),
			windows.OpenMemoryWindow: fetcher.MemoryWindowTool(),
		},
		Sources:          []tools.Source{integrations},
		MaxContextTokens: cfg.LLM.MaxContextTokens,
	})

	opts, err := temporalclient.LoadClientOptions(cfg.Temporal)
	if err != nil {
		return err
	}
	c, err := client.Dial(opts)
	if err != nil {
		return fmt.Errorf("create temporal client: %w", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.Queue(), worker.Options{BackgroundActivityContext: ctx})
	w.RegisterWorkflow(workflow.ConversationWorkflow)
	w.RegisterWorkflow(workflow.ConversationWorkflowContinued)
	w.RegisterActivity(activities.NewConversationActivities(svc))

	log.Info(ctx, log.KV{K: "msg", V: "starting worker"}, log.KV{K: "version", V: version.String()},
		log.KV{K: "task_queue", V: cfg.Temporal.Queue()}, log.KV{K: "temporal", V: opts.HostPort})
	if err := w.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("run worker: %w", err)
	}
	log.Info(ctx, log.KV{K: "msg", V: "worker stopped"})
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func(), error) {
	if cfg.Backend != config.BackendMongo {
		return inmem.New(), func() {}, nil
	}
	mc, err := mongodriver.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongo: %w", err)
	}
	closeFn := func() {
		if err := mc.Disconnect(context.Background()); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "close mongo"})
		}
	}
	st, err := mongostore.New(mongostore.Options{Client: mc, Database: cfg.Database, Timeout: 10 * time.Second})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return st, closeFn, nil
}

func openQueue(ctx context.Context, cfg config.QueueConfig) (asyncqueue.Queue, func(), error) {
	if cfg.Backend != config.BackendRedis {
		return asyncqueue.NewMemory(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "close redis"})
		}
	}
	return asyncqueue.NewRedis(rdb, cfg.Prefix+":"), closeFn, nil
}
