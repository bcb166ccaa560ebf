package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/asmith81/MJM-Special-WOs/api"
	"github.com/asmith81/MJM-Special-WOs/internal/auth"
	"github.com/asmith81/MJM-Special-WOs/internal/db"
	"github.com/asmith81/MJM-Special-WOs/internal/invoice"
	"github.com/asmith81/MJM-Special-WOs/internal/match"
	"github.com/asmith81/MJM-Special-WOs/internal/models"
	"github.com/asmith81/MJM-Special-WOs/internal/reasoner"
	"github.com/asmith81/MJM-Special-WOs/internal/repository"
	"github.com/asmith81/MJM-Special-WOs/internal/staging"
	"github.com/asmith81/MJM-Special-WOs/internal/storage"
)

func main() {
	// Initialize JWT
	if err := auth.Init(); err != nil {
		log.Fatalf("Failed to initialize auth: %v", err)
	}
	log.Println("JWT authentication initialized")

	// Initialize database connection pool
	if err := db.Init(); err != nil {
		log.Fatalf("Database not available: %v", err)
	}
	defer db.Close()
	log.Println("Database connection pool initialized")

	// Initialize MinIO storage
	if err := storage.Init(); err != nil {
		log.Printf("Warning: MinIO storage not available: %v", err)
		log.Println("Invoice documents will not be stored")
	} else {
		log.Println("MinIO storage initialized")
	}

	// Load configuration
	config, err := loadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Advisory reasoner; the engine degrades to deterministic-only when the
	// provider is absent or failing.
	var advisory match.Reasoner
	if provider, err := createProvider(config); err != nil {
		log.Printf("Warning: reasoner unavailable: %v", err)
		log.Println("Running with deterministic scoring only")
	} else {
		advisory = reasoner.NewClient(provider, config.Reasoner.MaxCandidates, logger)
		log.Printf("Reasoner provider: %s", provider.Name())
	}

	source := repository.NewPostgresSource(db.Pool)
	engine := match.NewEngine(source, advisory, config.Matching, config.Reasoner.Timeout.Std(), logger)

	invoiceAPI := invoice.NewClient(config.Invoice.BaseURL, config.Invoice.APIKey, config.Invoice.Timeout.Std(), logger)
	coordinator := staging.NewCoordinator(invoiceAPI, storage.DocumentStore{}, db.NewRecordWriter())

	// Create API handler
	handler := api.NewHandler(config, engine, coordinator, source)
	router := handler.SetupRoutes()

	// Wrap router with JWT middleware (skips /health and /api/login)
	protectedRouter := auth.JWTMiddleware(router)

	// Start server
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	log.Printf("Starting Work Order Match Service v%s on %s", api.Version, addr)
	log.Printf("Match threshold: %d, ambiguity epsilon: %d", config.Matching.MatchThreshold, config.Matching.AmbiguityEpsilon)
	log.Printf("Database: %v", db.Pool != nil)
	log.Printf("Storage: %v", storage.Client != nil)
	log.Printf("Endpoints:")
	log.Printf("  POST http://%s/api/login                    - Authenticate", addr)
	log.Printf("  POST http://%s/api/match                    - Match email text (requires JWT)", addr)
	log.Printf("  GET  http://%s/api/workorders               - Open work orders (requires JWT)", addr)
	log.Printf("  POST http://%s/api/session/{client}/accept  - Stage a match (requires JWT)", addr)
	log.Printf("  POST http://%s/api/batch/{client}/invoice   - Request invoice (requires JWT)", addr)
	log.Printf("  POST http://%s/api/batch/{client}/document  - Upload invoice PDF (requires JWT)", addr)
	log.Printf("  GET  http://%s/health                       - Health check", addr)

	if err := http.ListenAndServe(addr, protectedRouter); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func createProvider(config *models.Config) (reasoner.Provider, error) {
	switch config.Reasoner.DefaultProvider {
	case "openai":
		return reasoner.NewOpenAIProvider(config.Reasoner.OpenAI)
	case "gemini":
		return reasoner.NewGeminiProvider(context.Background(), config.Reasoner.Gemini)
	case "":
		return nil, fmt.Errorf("no reasoner provider configured")
	default:
		return nil, fmt.Errorf("unsupported reasoner provider: %s", config.Reasoner.DefaultProvider)
	}
}

func loadConfig(path string) (*models.Config, error) {
	// Read config file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var config models.Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables if present
	if port := os.Getenv("PORT"); port != "" {
		fmt.Sscanf(port, "%d", &config.Port)
	}
	if host := os.Getenv("HOST"); host != "" {
		config.Host = host
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Reasoner.OpenAI.APIKey = apiKey
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Reasoner.Gemini.APIKey = apiKey
	}
	if provider := os.Getenv("REASONER_PROVIDER"); provider != "" {
		config.Reasoner.DefaultProvider = provider
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.Reasoner.OpenAI.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.Reasoner.OpenAI.Model = model
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.Reasoner.Gemini.Model = model
	}
	if baseURL := os.Getenv("INVOICE_API_URL"); baseURL != "" {
		config.Invoice.BaseURL = baseURL
	}
	if apiKey := os.Getenv("INVOICE_API_KEY"); apiKey != "" {
		config.Invoice.APIKey = apiKey
	}

	config.Defaults()

	return &config, nil
}
