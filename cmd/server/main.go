/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the agency administration server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Read environment configuration, then command-line flags
  2. Initialize SQLite store
  3. Build the ledger service with the pricing configuration
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION:
  Environment variables (read via cleanenv) with flag overrides:
    PORT                HTTP server port (default: 8080)
    DB_PATH             SQLite database path (default: agency.db)
                        Use ":memory:" for an in-memory database
    REGISTRATION_PRICE  Unified registration/retake price (default: 16000)
    EXAM_CHANGE_FEE     Exam date change fee (default: 0)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/agency.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  PORT=3000 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/karvan/pricing-engine/api"
	"github.com/karvan/pricing-engine/ledger"
	"github.com/karvan/pricing-engine/pricing"
	"github.com/karvan/pricing-engine/store/sqlite"
)

type envConfig struct {
	Port              int    `env:"PORT" env-default:"8080"`
	DBPath            string `env:"DB_PATH" env-default:"agency.db"`
	RegistrationPrice string `env:"REGISTRATION_PRICE" env-default:"16000"`
	ExamChangeFee     string `env:"EXAM_CHANGE_FEE" env-default:"0"`
}

func main() {
	var cfg envConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("Failed to read environment: %v", err)
	}

	// Flags override the environment.
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	pricingCfg := pricing.Config{
		RegistrationPrice: pricing.MustParseMoney(cfg.RegistrationPrice),
		ExamChangeFee:     pricing.MustParseMoney(cfg.ExamChangeFee),
	}

	service := ledger.NewService(store, pricingCfg)
	handler := api.NewHandler(service)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
