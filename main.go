package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	config "deskmind/app/configs"
	"deskmind/app/core/events"
	"deskmind/app/core/fallback"
	"deskmind/app/core/interaction/chat"
	"deskmind/app/core/interaction/httpapi"
	"deskmind/app/core/interaction/inbox"
	"deskmind/app/core/interaction/reviewchannel"
	"deskmind/app/core/interaction/webhook"
	"deskmind/app/core/llm"
	"deskmind/app/core/memory"
	"deskmind/app/core/pipeline"
	"deskmind/app/core/queue"
	"deskmind/app/core/review"
	reviewdb "deskmind/app/core/review/db"
	"deskmind/app/core/session"
	"deskmind/app/pkg/logger"
	"deskmind/app/pkg/types"
)

// disabledMemory keeps the pipeline running when no vector store is
// configured. Searches come back empty and nothing is persisted.
type disabledMemory struct{}

func (disabledMemory) SearchHistory(context.Context, string, string, int) ([]types.Turn, error) {
	return nil, nil
}

func (disabledMemory) SearchCatalogue(context.Context, string, int) ([]types.CatalogueMatch, error) {
	return nil, nil
}

func main() {
	if err := logger.Init("output/logs"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Deskmind starting...")

	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		logger.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}
	llmClient := llm.NewClient(apiKey, cfg.OpenAI.EmbeddingModel)

	var (
		searcher     pipeline.MemorySearcher = disabledMemory{}
		memoryWriter pipeline.MemoryWriter
		reviewMemory review.MemoryWriter
	)
	if strings.TrimSpace(cfg.Memory.QdrantURL) != "" {
		store, err := memory.NewQdrantStore(memory.QdrantConfig{
			URL:        cfg.Memory.QdrantURL,
			Collection: cfg.Memory.Collection,
			APIKey:     os.Getenv("QDRANT_API_KEY"),
		})
		if err != nil {
			logger.Error("Failed to connect to Qdrant: %v", err)
			os.Exit(1)
		}
		defer store.Close()
		svc := memory.NewService(store, llmClient, cfg.Memory.CatalogueUserID)
		searcher = svc
		memoryWriter = svc
		reviewMemory = svc
		logger.Info("Memory store connected: %s/%s", cfg.Memory.QdrantURL, cfg.Memory.Collection)
	} else {
		logger.Info("No Qdrant URL configured, memory retrieval disabled")
	}

	var publisher events.Publisher = events.Noop{}
	if amqpURL := strings.TrimSpace(os.Getenv("AMQP_URL")); amqpURL != "" {
		amqpPub, err := events.NewAMQP(amqpURL, cfg.Events.Exchange)
		if err != nil {
			logger.Error("Failed to connect to AMQP broker: %v", err)
			os.Exit(1)
		}
		publisher = amqpPub
		logger.Info("Event publisher connected to exchange %s", cfg.Events.Exchange)
	}
	defer publisher.Close()

	var fallbacks []pipeline.Fallback
	if strings.TrimSpace(cfg.Docs.IndexURL) != "" {
		fallbacks = []pipeline.Fallback{
			fallback.NewDocSearch(llmClient, fallback.DocSearchConfig{
				Model:         cfg.OpenAI.FallbackModel,
				IndexURL:      cfg.Docs.IndexURL,
				MaxPages:      cfg.Docs.MaxPages,
				MaxPageChars:  cfg.Docs.MaxPageChars,
				MinConfidence: cfg.Docs.MinFallbackConfidence,
			}),
			fallback.NewSkillAgent(llmClient, fallback.SkillAgentConfig{
				Model:         cfg.OpenAI.FallbackModel,
				IndexURL:      cfg.Docs.IndexURL,
				MaxIterations: cfg.Docs.SkillMaxIterations,
				MaxPageChars:  cfg.Docs.MaxPageChars,
			}),
		}
	} else {
		logger.Info("No docs index configured, fallback chain disabled")
	}

	retriever := pipeline.NewRetriever(searcher, cfg.Pipeline.HistoryLimit, cfg.Pipeline.CatalogueLimit,
		time.Duration(cfg.Pipeline.MemoryTimeoutSec)*time.Second)
	generator := pipeline.NewGenerator(llmClient, cfg.OpenAI.Model, cfg.Pipeline.ConfidenceThreshold, fallbacks)
	refiner := pipeline.NewRefiner(llmClient, cfg.OpenAI.RefinerModel, !cfg.Pipeline.RefinerDisabled)

	replier := inbox.NewClient(inbox.Config{
		BaseURL:     cfg.Inbox.BaseURL,
		AccessToken: os.Getenv("INBOX_ACCESS_TOKEN"),
		AdminID:     cfg.Inbox.AdminID,
	})

	database, err := reviewdb.NewSQLiteDB("output/db")
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Draft database initialized")

	var notifier review.Notifier
	if strings.TrimSpace(cfg.Review.ChannelID) != "" {
		notifier = reviewchannel.NewClient(reviewchannel.Config{
			APIRoot:   cfg.Review.APIRoot,
			BotToken:  os.Getenv("REVIEW_BOT_TOKEN"),
			ChannelID: cfg.Review.ChannelID,
		})
	}
	workflow := review.NewWorkflow(review.NewSQLiteStore(database), replier, reviewMemory, notifier, publisher)

	genTimeout := time.Duration(cfg.Pipeline.GenerationTimeoutSec) * time.Second
	orchestrator := pipeline.NewOrchestrator(retriever, generator, refiner,
		cfg.Pipeline.ConfidenceThreshold, genTimeout, replier, workflow, memoryWriter, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatch := queue.New(cfg.Pipeline.DispatchBuffer)
	if err := dispatch.Start(ctx, cfg.Pipeline.DispatchWorkers); err != nil {
		logger.Error("Failed to start dispatch queue: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := dispatch.Stop(5 * time.Second); err != nil {
			logger.Error("Dispatch queue shutdown timeout: %v", err)
		}
	}()

	webhookServer := webhook.NewServer(webhook.Config{
		ListenPort:  cfg.Inbox.ListenPort,
		WebhookPath: cfg.Inbox.WebhookPath,
		Secret:      os.Getenv("INBOX_WEBHOOK_SECRET"),
	})
	go func() {
		err := webhookServer.Start(ctx, func(msg types.IncomingMessage) {
			_, err := dispatch.Enqueue(queue.Job{
				MaxRetries:     1,
				RetryDelay:     2 * time.Second,
				AttemptTimeout: 120 * time.Second,
				Run: func(jobCtx context.Context) error {
					_, err := orchestrator.Process(jobCtx, msg)
					return err
				},
			})
			if err != nil {
				logger.Error("Failed to enqueue message for %s: %v", msg.ConversationID, err)
			}
		})
		if err != nil {
			logger.Error("Webhook server crashed: %v", err)
			os.Exit(1)
		}
	}()

	// The chat surface keeps its own drafts and replies over the socket,
	// so it gets a separate workflow and orchestrator.
	sessions, err := session.New(cfg.Session.Driver, cfg.Session.RedisAddr,
		time.Duration(cfg.Session.TTLHours)*time.Hour)
	if err != nil {
		logger.Error("Failed to initialize session store: %v", err)
		os.Exit(1)
	}
	defer sessions.Close()

	chatWorkflow := review.NewWorkflow(review.NewMemoryStore(), chat.LoopbackReplier{}, reviewMemory, nil, publisher)
	chatOrchestrator := pipeline.NewOrchestrator(retriever, generator, refiner,
		cfg.Pipeline.ConfidenceThreshold, genTimeout, chat.LoopbackReplier{}, chatWorkflow, memoryWriter, publisher)
	chatServer := chat.NewServer(chat.Config{ListenPort: cfg.Chat.ListenPort}, sessions, chatOrchestrator, chatWorkflow)
	go func() {
		if err := chatServer.Start(ctx); err != nil {
			logger.Error("Chat server crashed: %v", err)
			os.Exit(1)
		}
	}()

	apiServer := httpapi.NewServer(httpapi.Config{
		ListenPort:   cfg.API.ListenPort,
		BatchWorkers: cfg.Pipeline.BatchConcurrency,
	}, orchestrator, workflow, dispatch)
	go func() {
		if err := apiServer.Start(ctx); err != nil {
			logger.Error("API server crashed: %v", err)
			os.Exit(1)
		}
	}()

	logger.Info("Deskmind is ready to serve.")
	fmt.Printf("- API:      http://localhost:%d/api/process (POST)\n", cfg.API.ListenPort)
	fmt.Printf("- Webhooks: http://localhost:%d%s (POST)\n", cfg.Inbox.ListenPort, cfg.Inbox.WebhookPath)
	fmt.Printf("- Chat:     ws://localhost:%d/ws\n", cfg.Chat.ListenPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. Deskmind shutting down...", sig)
	cancel()
}
