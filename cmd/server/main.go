package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"companion/internal/config"
	"companion/internal/handlers"
	"companion/internal/jobs"
	"companion/internal/logging"
	"companion/internal/services"
	"companion/internal/storage"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Companion Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Preset: %s)", cfg.Port, cfg.MemoryPreset)

	// Initialize the blob store
	store, err := storage.NewFileBlobStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("❌ Failed to initialize blob store: %v", err)
	}

	// Conversation state
	conversation := services.NewConversationService(store)
	conversation.Load()

	// Memory segment manager
	memory := services.NewMemoryService(cfg.MemoryConfig(), store)
	memory.Load()

	// Completion provider client
	client := services.NewCompletionClient(cfg.Provider())
	if p := client.Provider(); p.APIKey == "" {
		log.Println("⚠️ PROVIDER_API_KEY not set - completion calls will fail until configured")
	}

	// Summarization pipeline
	cache := services.NewSummaryCache()
	summarizer := services.NewSummarizerService(client, cache, cfg.SummarizationsPerHour, cfg.MemoryConfig().CompressContext)

	policy := services.NewTriggerPolicy(services.TriggerConfig{
		InitialThreshold: cfg.SummarizeInitialThreshold,
		UpdateThreshold:  cfg.SummarizeUpdateThreshold,
		Interval:         cfg.SummarizeInterval,
		MinMessages:      cfg.SummarizeMinMessages,
		Debounce:         cfg.SummarizeDebounce,
	}, conversation, summarizer, memory)

	// Prometheus metrics (deferred wiring into the services)
	metrics := services.InitMetrics(memory)
	cache.SetMetrics(metrics)
	summarizer.SetMetrics(metrics)
	policy.SetMetrics(metrics)

	// Watch the providers file for hot reload
	if cfg.ProvidersFile != "" {
		go watchProviders(cfg, client)
	}

	// Background jobs: trigger evaluation + memory maintenance
	scheduler, err := jobs.NewScheduler(policy, memory, cfg.ConsolidationCron)
	if err != nil {
		log.Fatalf("❌ Failed to create scheduler: %v", err)
	}
	scheduler.Start()

	// Fiber app
	app := fiber.New(fiber.Config{
		AppName: "Companion Server",
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())
	app.Use(limiter.New(limiter.Config{
		Max: 60, // requests per minute per IP
	}))

	prometheusMiddleware := fiberprometheus.New("companion")
	prometheusMiddleware.RegisterAt(app, "/metrics")
	app.Use(prometheusMiddleware.Middleware)

	// Routes
	healthHandler := handlers.NewHealthHandler(conversation)
	chatHandler := handlers.NewChatHandler(conversation, client, policy, memory, metrics)
	conversationHandler := handlers.NewConversationHandler(conversation)
	memoryHandler := handlers.NewMemoryHandler(memory)

	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api")
	api.Post("/chat", chatHandler.Handle)
	api.Get("/conversation", conversationHandler.Get)
	api.Delete("/conversation", conversationHandler.Clear)
	api.Get("/memory/stats", memoryHandler.Stats)
	api.Get("/memory/search", memoryHandler.Search)
	api.Delete("/memory", memoryHandler.Wipe)

	// Start server
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()
	log.Printf("✅ Server listening on port %s", cfg.Port)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("👋 Shutting down...")

	if err := app.Shutdown(); err != nil {
		log.Printf("⚠️ Server shutdown error: %v", err)
	}

	// Final best-effort summarization; never blocks shutdown on failure.
	policy.Flush()
	policy.Stop()

	// Pending persistence must complete before the process may exit.
	if err := conversation.Persist(); err != nil {
		log.Printf("⚠️ Final conversation persist failed: %v", err)
	}
	if err := memory.Persist(); err != nil {
		log.Printf("⚠️ Final memory persist failed: %v", err)
	}

	if err := scheduler.Stop(); err != nil {
		log.Printf("⚠️ Scheduler shutdown error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}

// watchProviders hot-reloads the completion provider when the
// providers file changes.
func watchProviders(cfg *config.Config, client *services.CompletionClient) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️ Failed to create providers watcher: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(cfg.ProvidersFile)); err != nil {
		log.Printf("⚠️ Failed to watch providers file: %v", err)
		return
	}
	log.Printf("👀 Watching %s for provider changes", cfg.ProvidersFile)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != cfg.ProvidersFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			providers, err := config.LoadProviders(cfg.ProvidersFile)
			if err != nil {
				log.Printf("⚠️ Failed to reload providers: %v", err)
				continue
			}
			if p, ok := providers.Active(); ok {
				client.UpdateProvider(p)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️ Providers watcher error: %v", err)
		}
	}
}
