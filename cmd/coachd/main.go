// Command coachd runs the FitCoach background worker: it consumes the shared
// task stream (vectorization, conversation analytics, cache warming), owns the
// scheduled maintenance jobs (nightly digests, retention sweeps, backlog
// drains, recommendation expiry) and serves the health endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	miniosdk "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/fitcoach-ai/fitcoach/config"
	consultmongo "github.com/fitcoach-ai/fitcoach/consult/mongo"
	entrymongo "github.com/fitcoach-ai/fitcoach/entry/mongo"
	"github.com/fitcoach-ai/fitcoach/memory"
	memorymongo "github.com/fitcoach-ai/fitcoach/memory/mongo"
	"github.com/fitcoach-ai/fitcoach/model/anthropic"
	"github.com/fitcoach-ai/fitcoach/model/bedrock"
	"github.com/fitcoach-ai/fitcoach/model/middleware"
	"github.com/fitcoach-ai/fitcoach/model/openai"
	objminio "github.com/fitcoach-ai/fitcoach/objstore/minio"
	"github.com/fitcoach-ai/fitcoach/profile"
	profilemongo "github.com/fitcoach-ai/fitcoach/profile/mongo"
	"github.com/fitcoach-ai/fitcoach/recommend"
	recommendmongo "github.com/fitcoach-ai/fitcoach/recommend/mongo"
	"github.com/fitcoach-ai/fitcoach/router"
	"github.com/fitcoach-ai/fitcoach/worker"
	"github.com/fitcoach-ai/fitcoach/worker/handlers"
	workermongo "github.com/fitcoach-ai/fitcoach/worker/mongo"
	workerpulse "github.com/fitcoach-ai/fitcoach/worker/pulse"
)

// embeddingDimensions keeps OpenAI text vectors and Titan image vectors the
// same width so the stores stay interchangeable per embedding model family.
const embeddingDimensions = 384

func main() {
	var (
		httpAddrF = flag.String("http-addr", "", "Health endpoint listen address (overrides FITCOACH_HTTP_ADDR)")
		dbgF      = flag.Bool("debug", false, "Enable debug logs and profiling endpoints")
	)
	flag.Parse()

	// Setup logger.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(ctx, err, "load configuration")
	}
	if err := cfg.ValidateProviders(); err != nil {
		log.Fatalf(ctx, err, "validate provider credentials")
	}
	addr := cfg.HTTPAddr
	if *httpAddrF != "" {
		addr = *httpAddrF
	}
	log.Print(ctx, log.KV{K: "env", V: cfg.Env}, log.KV{K: "http-addr", V: addr})

	// Connect the data stores.
	mc, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf(ctx, err, "connect to mongo at %s", cfg.MongoURI)
	}
	{
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = mc.Ping(pingCtx, readpref.Primary())
		cancel()
		if err != nil {
			log.Fatalf(ctx, err, "ping mongo at %s", cfg.MongoURI)
		}
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf(ctx, err, "ping redis at %s", cfg.RedisAddr)
	}

	var (
		consultStore *consultmongo.Store
		entryStore   *entrymongo.Store
		memStore     *memorymongo.Store
		profStore    *profilemongo.Store
		recStore     *recommendmongo.Store
		backlog      *workermongo.Backlog
	)
	{
		if consultStore, err = consultmongo.New(consultmongo.Options{Client: mc, Database: cfg.MongoDatabase}); err != nil {
			log.Fatalf(ctx, err, "create consultation store")
		}
		if entryStore, err = entrymongo.New(entrymongo.Options{Client: mc, Database: cfg.MongoDatabase}); err != nil {
			log.Fatalf(ctx, err, "create entry store")
		}
		if memStore, err = memorymongo.New(memorymongo.Options{Client: mc, Database: cfg.MongoDatabase}); err != nil {
			log.Fatalf(ctx, err, "create embedding store")
		}
		if profStore, err = profilemongo.New(profilemongo.Options{Client: mc, Database: cfg.MongoDatabase}); err != nil {
			log.Fatalf(ctx, err, "create profile store")
		}
		if recStore, err = recommendmongo.New(recommendmongo.Options{Client: mc, Database: cfg.MongoDatabase}); err != nil {
			log.Fatalf(ctx, err, "create recommendation store")
		}
		if backlog, err = workermongo.New(workermongo.Options{Client: mc, Database: cfg.MongoDatabase}); err != nil {
			log.Fatalf(ctx, err, "create task backlog")
		}
	}

	// Uploaded media lives on S3-compatible storage. Optional: without it
	// image vectorization tasks are not registered.
	var objects handlers.Objects
	if cfg.MinioEndpoint != "" {
		mio, err := miniosdk.New(cfg.MinioEndpoint, &miniosdk.Options{
			Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
			Secure: cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf(ctx, err, "create minio client for %s", cfg.MinioEndpoint)
		}
		baseURL := cfg.MediaBaseURL
		if baseURL == "" {
			scheme := "http"
			if cfg.MinioUseSSL {
				scheme = "https"
			}
			baseURL = fmt.Sprintf("%s://%s", scheme, cfg.MinioEndpoint)
		}
		if objects, err = objminio.New(objminio.Options{Client: mio, PublicBaseURL: baseURL}); err != nil {
			log.Fatalf(ctx, err, "create object store")
		}
	}

	// Build the provider clients and the model router. Each provider gets its
	// own adaptive token budget so sustained throttling slows callers down
	// before it burns the routing key.
	oa, err := openai.NewFromAPIKey(cfg.OpenAIKey, openai.Options{
		DefaultModel:        cfg.FastModel,
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: embeddingDimensions,
	})
	if err != nil {
		log.Fatalf(ctx, err, "create openai client")
	}
	ac, err := anthropic.NewFromAPIKey(cfg.AnthropicKey, anthropic.Options{DefaultModel: cfg.AccurateModel})
	if err != nil {
		log.Fatalf(ctx, err, "create anthropic client")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatalf(ctx, err, "load aws configuration")
	}
	titan, err := bedrock.New(bedrock.Options{
		Runtime:      bedrockruntime.NewFromConfig(awsCfg),
		OutputLength: embeddingDimensions,
	})
	if err != nil {
		log.Fatalf(ctx, err, "create bedrock embedder")
	}
	fast := middleware.NewAdaptiveRateLimiter(200000, 400000).Middleware()(oa)
	accurate := middleware.NewAdaptiveRateLimiter(80000, 160000).Middleware()(ac)
	rtr, err := router.New(router.Options{
		Fast:                 fast,
		Accurate:             accurate,
		SpeechToText:         oa,
		Vision:               oa,
		FastModel:            cfg.FastModel,
		AccurateModel:        cfg.AccurateModel,
		FastLongContextModel: cfg.FastLongContextModel,
		Routes:               cfg.Routes(),
	})
	if err != nil {
		log.Fatalf(ctx, err, "create model router")
	}

	// Assemble the services the task handlers call into.
	memSvc, err := memory.New(memory.Options{
		Store:         memStore,
		TextEmbedder:  oa,
		ImageEmbedder: titan,
		Transcriber:   rtr,
	})
	if err != nil {
		log.Fatalf(ctx, err, "create memory service")
	}
	recSvc, err := recommend.New(recommend.Options{
		Store:    recStore,
		Models:   rtr,
		Profiles: profStore,
		Entries:  entryStore,
	})
	if err != nil {
		log.Fatalf(ctx, err, "create recommendation service")
	}
	h, err := handlers.New(handlers.Options{
		Vectorizer:      memSvc,
		Conversations:   consultStore,
		Entries:         entryStore,
		Profiles:        profStore,
		Objects:         objects,
		Embeddings:      memStore,
		Recommendations: recSvc,
		Models:          rtr,
		Users:           profileUsers{profiles: profStore},
		Backlog:         backlog,
	})
	if err != nil {
		log.Fatalf(ctx, err, "create task handlers")
	}

	engine, err := workerpulse.New(workerpulse.Options{Redis: rdb})
	if err != nil {
		log.Fatalf(ctx, err, "create task engine")
	}
	h.Register(engine)

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(ctx)
	if err := engine.Start(ctx); err != nil {
		log.Fatalf(ctx, err, "start task engine")
	}
	scheduleMaintenance(ctx, engine)

	// Health endpoint plus debug tooling when enabled.
	mux := http.NewServeMux()
	check := health.Handler(health.NewChecker(consultStore, entryStore, memStore, profStore, recStore, backlog))
	mux.Handle("/healthz", check)
	mux.Handle("/livez", check)
	if *dbgF {
		debug.MountDebugLogEnabler(mux)
		debug.MountPprofHandlers(mux)
	}
	srv := &http.Server{Addr: addr, Handler: log.HTTP(ctx)(mux), ReadHeaderTimeout: 60 * time.Second}
	go func() {
		log.Printf(ctx, "HTTP server listening on %q", addr)
		errc <- srv.ListenAndServe()
	}()

	// Wait for signal.
	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := engine.Close(shutdownCtx); err != nil {
		log.Printf(shutdownCtx, "failed to stop task engine: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf(shutdownCtx, "failed to shutdown HTTP server: %v", err)
	}
	if err := rdb.Close(); err != nil {
		log.Printf(shutdownCtx, "failed to close redis client: %v", err)
	}
	if err := mc.Disconnect(shutdownCtx); err != nil {
		log.Printf(shutdownCtx, "failed to disconnect mongo client: %v", err)
	}
	log.Printf(ctx, "exited")
}

// scheduleMaintenance registers the recurring jobs. All scheduling is
// distributed: exactly one node per tick enqueues each task.
func scheduleMaintenance(ctx context.Context, engine worker.Engine) {
	schedules := []struct {
		name     string
		interval time.Duration
		hour     int
		minute   int
		kind     string
	}{
		{name: "process-embeddings", interval: 15 * time.Minute, kind: worker.TaskProcessEmbeddings},
		{name: "expire-recommendations", interval: time.Hour, kind: worker.TaskExpireRecommendations},
		{name: "generate-summaries", hour: 2, kind: worker.TaskGenerateSummaries},
		{name: "cleanup-old-embeddings", hour: 3, minute: 30, kind: worker.TaskCleanupOldEmbeddings},
	}
	for _, s := range schedules {
		var err error
		if s.interval > 0 {
			err = engine.Every(ctx, s.name, s.interval, worker.Task{Kind: s.kind})
		} else {
			err = engine.DailyAt(ctx, s.name, s.hour, s.minute, worker.Task{Kind: s.kind})
		}
		if err != nil {
			log.Fatalf(ctx, err, "register schedule %q", s.name)
		}
	}
}

// profileUsers feeds scheduled fan-out tasks from the profile store.
type profileUsers struct {
	profiles profile.Store
}

func (p profileUsers) ActiveUserIDs(ctx context.Context) ([]string, error) {
	return p.profiles.UserIDs(ctx)
}
