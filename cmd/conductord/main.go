// Command conductord is the process entry point: it loads configuration,
// wires a store, artifact store, event bus, model client, and tool
// registry, and runs the worker pool and barrier deadline reaper until
// signaled to stop. Ingress transport (how a turn request reaches
// supervisor.Lifecycle.Start) is intentionally out of scope here - spec.md
// puts the HTTP/SSE transport layer out of scope, so this binary exposes
// the wired Lifecycle for an external transport to call into rather than
// serving one itself.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/nullstackai/conductor/artifact"
	"github.com/nullstackai/conductor/barrier"
	"github.com/nullstackai/conductor/config"
	"github.com/nullstackai/conductor/engine"
	"github.com/nullstackai/conductor/events"
	"github.com/nullstackai/conductor/model"
	"github.com/nullstackai/conductor/modelclient"
	"github.com/nullstackai/conductor/resume"
	"github.com/nullstackai/conductor/store"
	"github.com/nullstackai/conductor/store/inmem"
	storemongo "github.com/nullstackai/conductor/store/mongo"
	"github.com/nullstackai/conductor/supervisor"
	"github.com/nullstackai/conductor/telemetry"
	"github.com/nullstackai/conductor/tools"
	"github.com/nullstackai/conductor/worker"
)

func main() {
	var (
		configPathF = flag.String("config", "conductord.yaml", "path to the configuration file")
		debugF      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *debugF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := config.Load(*configPathF)
	if err != nil {
		log.Fatalf(ctx, err, "failed to load configuration")
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf(ctx, err, "conductord exited with error")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewClueLogger()

	stores, err := buildStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("conductord: build stores: %w", err)
	}

	artifacts, err := buildArtifactStore(cfg)
	if err != nil {
		return fmt.Errorf("conductord: build artifact store: %w", err)
	}

	bus, err := buildEventBus(ctx, cfg, stores.events)
	if err != nil {
		return fmt.Errorf("conductord: build event bus: %w", err)
	}

	client, err := buildModelClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("conductord: build model client: %w", err)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.SpawnWorkerSpec())
	registry.Register(tools.GetCurrentTimeSpec())

	eng := &engine.Engine{
		Client:        client,
		Jobs:          stores.workerJobs,
		Artifacts:     artifacts,
		Bus:           bus,
		Logger:        logger,
		MaxUserTurns:  cfg.Engine.MaxUserTurns,
		MaxCharBudget: cfg.Engine.MaxCharBudget,
	}

	coordinator := &barrier.Coordinator{
		Store:  stores.barriers,
		Jobs:   stores.workerJobs,
		Logger: logger,
	}

	supervisorBinder := func(run *store.Run) *tools.Binder {
		reg := tools.NewRegistry()
		for _, t := range registry.All() {
			reg.Register(t)
		}
		reg.Register(tools.GetWorkerEvidenceSpec(artifacts, run.OwnerID))
		b := tools.NewBinder(reg, cfg.Supervisor.ToolAllowlist)
		return b.WithResolver(reg.Resolver())
	}

	resumeSvc := &resume.Service{
		Runs:     stores.runs,
		Threads:  stores.threads,
		Messages: stores.messages,
		Barriers: coordinator,
		Engine:   eng,
		Bus:      bus,
		Logger:   logger,
		Binder:   supervisorBinder,
	}
	coordinator.Resumer = resumeSvc

	lifecycle := &supervisor.Lifecycle{
		Runs:     stores.runs,
		Threads:  stores.threads,
		Messages: stores.messages,
		Jobs:     stores.workerJobs,
		Barriers: coordinator,
		Engine:   eng,
		Bus:      bus,
		Logger:   logger,
		Inbox: &supervisor.InboxBuilder{
			Jobs:      stores.workerJobs,
			Artifacts: artifacts,
		},
		SystemPrompt: defaultSupervisorPrompt,
		Binder:       supervisorBinder,
		Timeout:      cfg.Supervisor.Timeout,
	}
	processor := &worker.Processor{
		Jobs:          stores.workerJobs,
		Barriers:      coordinator,
		Artifacts:     artifacts,
		Engine:        eng,
		Tools:         registry,
		ToolAllowlist: cfg.Worker.ToolAllowlist,
		SystemPrompt:  defaultWorkerPrompt,
		Logger:        logger,
		PollInterval:  cfg.Worker.PollInterval,
	}

	pool := &worker.Pool{
		Processor: processor,
		Size:      cfg.Worker.PoolSize,
		Logger:    logger,
	}

	reaper := &barrier.Reaper{
		Coordinator: coordinator,
		Store:       stores.barriers,
		Jobs:        stores.workerJobs,
		Logger:      logger,
	}
	if err := reaper.Schedule(cfg.Barrier.ReaperSchedule); err != nil {
		return fmt.Errorf("conductord: schedule barrier reaper: %w", err)
	}
	defer reaper.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pool.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(runCtx, err, log.KV{K: "component", V: "worker-pool"})
		}
	}()

	log.Print(runCtx,
		log.KV{K: "event", V: "conductord started"},
		log.KV{K: "worker-pool-size", V: cfg.Worker.PoolSize},
		log.KV{K: "supervisor-timeout", V: lifecycle.Timeout.String()},
	)

	<-errc
	cancel()
	wg.Wait()
	return nil
}

// storeBundle groups the per-entity store implementations so buildStores can
// return one value regardless of backend.
type storeBundle struct {
	runs       store.RunStore
	threads    store.ThreadStore
	messages   store.MessageStore
	workerJobs store.WorkerJobStore
	barriers   store.BarrierStore
	events     store.EventStore
}

func buildStores(ctx context.Context, cfg *config.Config) (*storeBundle, error) {
	switch cfg.Store.Backend {
	case "mongo":
		client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.Store.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		opts := storemongo.Options{Client: client, Database: cfg.Store.Mongo.Database, Timeout: cfg.Store.Mongo.Timeout}
		runs, err := storemongo.NewRunStore(ctx, opts)
		if err != nil {
			return nil, err
		}
		threads, err := storemongo.NewThreadStore(ctx, opts)
		if err != nil {
			return nil, err
		}
		messages, err := storemongo.NewMessageStore(ctx, opts)
		if err != nil {
			return nil, err
		}
		workerJobs, err := storemongo.NewWorkerJobStore(ctx, opts)
		if err != nil {
			return nil, err
		}
		barriers, err := storemongo.NewBarrierStore(ctx, opts)
		if err != nil {
			return nil, err
		}
		evs, err := storemongo.NewEventStore(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &storeBundle{runs: runs, threads: threads, messages: messages, workerJobs: workerJobs, barriers: barriers, events: evs}, nil
	case "inmem":
		return &storeBundle{
			runs:       inmem.NewRunStore(),
			threads:    inmem.NewThreadStore(),
			messages:   inmem.NewMessageStore(),
			workerJobs: inmem.NewWorkerJobStore(),
			barriers:   inmem.NewBarrierStore(),
			events:     inmem.NewEventStore(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func buildArtifactStore(cfg *config.Config) (artifact.Store, error) {
	switch cfg.Artifacts.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Artifacts.Redis.Addr,
			Username: cfg.Artifacts.Redis.Username,
			Password: cfg.Artifacts.Redis.Password,
			DB:       cfg.Artifacts.Redis.DB,
		})
		return artifact.NewRedisStore(client, cfg.Artifacts.Redis.KeyPrefix), nil
	case "inmem":
		return artifact.NewInMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown artifacts backend %q", cfg.Artifacts.Backend)
	}
}

func buildEventBus(ctx context.Context, cfg *config.Config, eventStore store.EventStore) (events.Bus, error) {
	inner := events.NewBus()
	if !cfg.Events.Durable {
		return inner, nil
	}
	var pulseClient events.PulseClient
	if cfg.Events.Pulse {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Events.StreamAddr})
		pulseClient = &streamPulseClient{redis: redisClient}
	}
	return events.NewDurableBus(inner, eventStore, pulseClient), nil
}

// streamPulseClient adapts goa.design/pulse/streaming to events.PulseClient,
// mirroring the teacher's own thin wrapper
// (features/stream/pulse/clients/pulse/client.go) narrowed to the one
// operation DurableBus needs.
type streamPulseClient struct {
	redis *redis.Client
}

func (c *streamPulseClient) Stream(name string, opts ...streamopts.Stream) (events.PulseStream, error) {
	s, err := streaming.NewStream(name, c.redis, opts...)
	if err != nil {
		return nil, err
	}
	return &streamPulseStream{stream: s}, nil
}

type streamPulseStream struct {
	stream *streaming.Stream
}

func (s *streamPulseStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	return s.stream.Add(ctx, event, payload)
}

func buildModelClient(ctx context.Context, cfg *config.Config) (model.Client, error) {
	var (
		client model.Client
		err    error
	)
	switch cfg.Model.Provider {
	case "anthropic":
		client, err = modelclient.NewAnthropicFromAPIKey(cfg.Model.Anthropic.APIKey, modelclient.AnthropicOptions{
			DefaultModel:   cfg.Model.Anthropic.DefaultModel,
			HighModel:      cfg.Model.Anthropic.HighModel,
			SmallModel:     cfg.Model.Anthropic.SmallModel,
			MaxTokens:      cfg.Model.Anthropic.MaxTokens,
			Temperature:    cfg.Model.Anthropic.Temperature,
			ThinkingBudget: cfg.Model.Anthropic.ThinkingBudget,
		})
	case "openai":
		client, err = modelclient.NewOpenAIFromAPIKey(cfg.Model.OpenAI.APIKey, modelclient.OpenAIOptions{
			DefaultModel: cfg.Model.OpenAI.DefaultModel,
			HighModel:    cfg.Model.OpenAI.HighModel,
			SmallModel:   cfg.Model.OpenAI.SmallModel,
			MaxTokens:    cfg.Model.OpenAI.MaxTokens,
			Temperature:  cfg.Model.OpenAI.Temperature,
		})
	case "bedrock":
		awsCfg, cfgErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Model.Bedrock.Region))
		if cfgErr != nil {
			return nil, fmt.Errorf("load aws config: %w", cfgErr)
		}
		runtime := bedrockruntime.NewFromConfig(awsCfg)
		client, err = modelclient.NewBedrock(runtime, modelclient.BedrockOptions{
			DefaultModel: cfg.Model.Bedrock.DefaultModel,
			HighModel:    cfg.Model.Bedrock.HighModel,
			SmallModel:   cfg.Model.Bedrock.SmallModel,
			MaxTokens:    cfg.Model.Bedrock.MaxTokens,
			Temperature:  cfg.Model.Bedrock.Temperature,
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
	if err != nil {
		return nil, err
	}

	if !cfg.RateLimit.Enabled {
		return client, nil
	}

	var clusterMap *rmap.Map
	if cfg.RateLimit.Cluster {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Artifacts.Redis.Addr})
		m, err := rmap.Join(ctx, "conductor-ratelimit", redisClient)
		if err != nil {
			return nil, fmt.Errorf("join rate limit cluster map: %w", err)
		}
		clusterMap = m
	}
	limiter := modelclient.NewAdaptiveRateLimiter(ctx, clusterMap, cfg.RateLimit.Key, cfg.RateLimit.InitialTPM, cfg.RateLimit.MaxTPM)
	return limiter.Middleware()(client), nil
}

func defaultSupervisorPrompt(ownerID string) string {
	return "You are the supervisor agent for owner " + ownerID + ". " +
		"Delegate long-running or sandboxed work to spawn_worker and keep the " +
		"user informed of progress; re-fetch full worker output with " +
		"get_worker_evidence when a summary is not enough."
}

func defaultWorkerPrompt(job *store.WorkerJob) string {
	return "You are a background worker completing one delegated task. " +
		"Focus only on the assigned task and report your result plainly " +
		"when done: " + job.Task
}
