package api

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mnemo-ai/mnemo/internal/api/handlers"
	mw "github.com/mnemo-ai/mnemo/internal/api/middleware"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/llm"
	"github.com/mnemo-ai/mnemo/internal/service"
	"github.com/mnemo-ai/mnemo/internal/store"
	"go.uber.org/zap"
)

// App holds the router and long-lived components for lifecycle management.
type App struct {
	Router       *chi.Mux
	Manager      *service.Manager
	Extractor    *service.Extractor
	Consolidator *service.Consolidator
	startTime    time.Time
	counters     mw.RequestCounters
}

func NewApp(dataDir string, logger *zap.Logger) *App {
	flushDelay := config.FlushDelay()

	// External clients via provider factory
	llmProvider := config.LLMProvider()
	embeddingProvider := config.EmbeddingProvider()

	llmClient, err := llm.NewClient(llmProvider, config.LLMAPIKey())
	if err != nil {
		logger.Warn("LLM client initialization failed", zap.String("provider", llmProvider), zap.Error(err))
	} else if llmClient != nil {
		logger.Info("LLM client initialized", zap.String("provider", llmProvider))
	}

	embeddingClient, err := embedding.NewClient(embeddingProvider, config.EmbeddingAPIKey(), config.EmbeddingModel())
	if err != nil {
		logger.Warn("Embedding client initialization failed", zap.String("provider", embeddingProvider), zap.Error(err))
	} else if embeddingClient != nil {
		logger.Info("Embedding client initialized", zap.String("provider", embeddingProvider))
	}

	// Stores
	graphStore := store.NewGraphStore(filepath.Join(dataDir, "graph.json"), flushDelay, logger)
	vectorStore := store.NewVectorStore(filepath.Join(dataDir, "chunks.json"), flushDelay, embeddingClient, logger)
	skillStore := store.NewSkillStore(filepath.Join(dataDir, "skills.json"), flushDelay, logger)

	// Services
	classifier := service.NewSituationClassifier(logger)
	extractor := service.NewExtractor(graphStore, llmClient, logger)
	consolidator := service.NewConsolidator(graphStore, vectorStore, skillStore, logger)
	consolidator.SetInterval(config.ConsolidationInterval())
	manager := service.NewManager(graphStore, vectorStore, skillStore, classifier, extractor, consolidator, llmClient, config.TokenBudget(), logger)

	// Handlers
	memoryHandler := handlers.NewMemoryHandler(manager)
	knowledgeHandler := handlers.NewKnowledgeHandler(manager, graphStore)
	cognitiveHandler := handlers.NewCognitiveHandler(manager, graphStore, vectorStore, skillStore)

	r := chi.NewRouter()

	app := &App{
		Router:       r,
		Manager:      manager,
		Extractor:    extractor,
		Consolidator: consolidator,
		startTime:    time.Now(),
	}

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.CountRequests(&app.counters))
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", healthHandler())
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", memoryHandler.AddMessage)
		r.Post("/context", memoryHandler.BuildContext)
		r.Get("/history/search", memoryHandler.SearchHistory)
		r.Post("/flush", memoryHandler.Flush)
		r.Delete("/memory", memoryHandler.Clear)

		r.Post("/knowledge", knowledgeHandler.Save)
		r.Get("/knowledge/search", knowledgeHandler.Search)
		r.Post("/entities", knowledgeHandler.CreateEntity)
		r.Get("/entities/{name}", knowledgeHandler.GetEntity)
		r.Post("/relations", knowledgeHandler.CreateRelation)
		r.Post("/self/observations", knowledgeHandler.RecordSelfObservation)

		r.Route("/cognitive", func(r chi.Router) {
			r.Post("/consolidate", cognitiveHandler.TriggerConsolidation)
			r.Get("/stats", cognitiveHandler.Stats)
			r.Get("/skills", cognitiveHandler.ListSkills)
			r.Post("/skills/{id}/use", cognitiveHandler.RecordSkillUse)
		})
	})

	return app
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.counters.Requests.Load(),
			"error_count":    app.counters.Errors.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure clients satisfy interfaces at compile time.
var (
	_ domain.EmbeddingClient = (*embedding.OpenAIClient)(nil)
	_ domain.EmbeddingClient = (*embedding.MockClient)(nil)
	_ domain.LLMClient       = (*llm.OpenAIClient)(nil)
	_ domain.LLMClient       = (*llm.MockClient)(nil)
)
