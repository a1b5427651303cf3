package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"slicer-backend/cmd"
	"slicer-backend/internal/api"
	"slicer-backend/internal/core"
	"slicer-backend/internal/database"
	"slicer-backend/internal/messaging"
	"slicer-backend/internal/signing"
	"slicer-backend/internal/storage"
	"slicer-backend/internal/upload"
)

type APIConfig struct {
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"./data/db/slicer.db"`
	RabbitMQURL    string `env:"RABBITMQ_URL"`
	SigningSecret  string `env:"URL_SIGNING_SECRET,notEmpty,required"`
	PricingURL     string `env:"PRICING_URL"`
	PricingAPIKey  string `env:"PRICING_API_KEY"`
	PurgeOnFailure bool   `env:"PURGE_ARTIFACTS_ON_FAILURE" envDefault:"false"`
	APIPort        string `env:"API_PORT" envDefault:"8001"`

	Engine cmd.EngineConfig
	Mirror cmd.MirrorConfig
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewLocalStore(cfg.Engine.UploadDir)
	if err != nil {
		log.Fatalf("Failed to create upload storage: %v", err)
	}

	signer, err := signing.NewSigner(cfg.SigningSecret, store.BaseDir())
	if err != nil {
		log.Fatalf("Failed to create link signer: %v", err)
	}

	pipeline := core.NewPipeline(db, store, cmd.CreateInvoker(cfg.Engine), signer, core.PipelineOptions{
		WorkRoot:       cfg.Engine.WorkDir,
		Mirror:         cmd.CreateMirror(cfg.Mirror),
		Pricing:        cmd.CreatePricingClient(cfg.PricingURL, cfg.PricingAPIKey),
		PurgeOnFailure: cfg.PurgeOnFailure,
	})

	// Without a broker the api process consumes its own queue; with one, async
	// jobs go to dedicated worker processes.
	var publisher messaging.Publisher
	if cfg.RabbitMQURL == "" {
		queue := messaging.NewInMemoryQueue()
		publisher = queue

		processor := core.NewTaskProcessor(pipeline, queue)
		go processor.Start()
		defer processor.Stop()
	} else {
		rabbitPublisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer rabbitPublisher.Close()
		publisher = rabbitPublisher
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Minute)) // slicing requests block on the engine

	uploads := upload.NewManager(store.BaseDir())
	apiHandler := api.NewBackendService(db, uploads, pipeline, publisher, signer)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
