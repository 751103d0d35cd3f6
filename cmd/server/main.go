package main

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/suPer8Hu/playmate/internal/ai"
	"github.com/suPer8Hu/playmate/internal/catalog"
	"github.com/suPer8Hu/playmate/internal/chat"
	"github.com/suPer8Hu/playmate/internal/config"
	"github.com/suPer8Hu/playmate/internal/conversation"
	"github.com/suPer8Hu/playmate/internal/db"
	"github.com/suPer8Hu/playmate/internal/embedding"
	"github.com/suPer8Hu/playmate/internal/engage"
	"github.com/suPer8Hu/playmate/internal/httpapi"
	"github.com/suPer8Hu/playmate/internal/httpapi/handlers"
	"github.com/suPer8Hu/playmate/internal/logger"
	"github.com/suPer8Hu/playmate/internal/messaging"
	"github.com/suPer8Hu/playmate/internal/recommend"
	"github.com/suPer8Hu/playmate/internal/session"
	"github.com/suPer8Hu/playmate/internal/store/rabbitmq"
	"github.com/suPer8Hu/playmate/internal/store/redisstore"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		lg.Fatal("database", "error", err)
	}

	// Provider registry
	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		if strings.TrimSpace(model) == "" {
			model = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("OPENROUTER_API_KEY is required")
		}
		if strings.TrimSpace(model) == "" {
			model = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	provider, err := reg.Get(ctx, cfg.AIProvider, "")
	if err != nil {
		lg.Fatal("ai provider", "error", err)
	}

	// embeddings, cached in redis when it is reachable
	ollamaEmbed := embedding.NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaEmbedModel)
	var embedder embedding.Embedder = ollamaEmbed
	rds, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		lg.Warn("redis unavailable, embedding cache disabled", "addr", cfg.RedisAddr, "error", err)
	} else {
		defer rds.Close()
		embedder = embedding.NewCachedEmbedder(ollamaEmbed, rds, ollamaEmbed.Model(), cfg.EmbedCacheTTL, lg)
	}

	if cfg.CatalogPath != "" {
		entries, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			lg.Fatal("catalog", "path", cfg.CatalogPath, "error", err)
		}
		if _, err := catalog.NewImporter(gdb, embedder, lg).Import(ctx, entries); err != nil {
			lg.Fatal("catalog import", "error", err)
		}
	}

	sessions := session.NewRepo(gdb)
	chatSvc := chat.NewService(chat.NewRepo(gdb), cfg.ChatContextWindowSize)
	recs := recommend.NewRepo(gdb)

	var sender messaging.Sender
	switch cfg.MessagingMode {
	case "queue":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			lg.Fatal("rabbitmq publisher", "error", err)
		}
		defer pub.Close()
		sender = messaging.NewQueuedSender(messaging.NewDeliveryRepo(gdb), pub, func(ctx context.Context, address string) (uint64, error) {
			u, err := sessions.GetOrCreateUser(ctx, address)
			if err != nil {
				return 0, err
			}
			return u.ID, nil
		})
	default:
		sender = messaging.NewHTTPChannel(cfg.ChannelURL, cfg.ChannelToken)
	}
	dispatcher := messaging.NewDispatcher(sender, chatSvc, sessions, cfg.AITimeout, lg)

	responder := ai.NewResponder(provider, cfg.AITimeout, lg)
	engine := recommend.NewEngine(recs, embedder, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)), cfg.AITimeout, lg)
	conv := conversation.NewService(conversation.Deps{
		Sessions:   sessions,
		Tracker:    session.NewTracker(sessions, lg),
		Chat:       chatSvc,
		Classifier: ai.NewClassifier(provider, cfg.AITimeout, lg),
		Responder:  responder,
		Machine:    conversation.NewMachine(engine, recs, lg),
		Dispatcher: dispatcher,
		Log:        lg,
	})

	sched := engage.NewScheduler(engage.Deps{
		Guards:     engage.NewRepo(gdb),
		Sessions:   sessions,
		Catalog:    recs,
		Converser:  conv,
		Responder:  responder,
		Dispatcher: dispatcher,
		Config:     cfg.Scheduler,
		Log:        lg,
	})
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(handlers.NewHandler(conv, chatSvc, lg), cfg.WebhookSecret, lg)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		lg.Info("http server listening", "addr", cfg.HTTPAddr, "messaging_mode", cfg.MessagingMode, "ai_provider", cfg.AIProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("http shutdown", "error", err)
	}
	<-schedDone
}
